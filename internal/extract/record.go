package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Record is one financial-instrument mention.
type Record struct {
	Instrument string `json:"instrument"`
	Price      string `json:"price"`
	Action     string `json:"action"`
	Opinion    string `json:"opinion"`
	Sentiment  string `json:"sentiment"`
}

var fieldAliases = map[string][]string{
	"instrument": {"instrument", "종목", "stock", "ticker"},
	"price":      {"price", "가격", "target_price"},
	"action":     {"action", "액션", "recommendation"},
	"opinion":    {"opinion", "의견", "reason"},
	"sentiment":  {"sentiment", "감성"},
}

// UnmarshalJSON accepts English or Korean keys and numeric or string values.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	pick := func(field string) (string, error) {
		for _, key := range fieldAliases[field] {
			raw, ok := lookupKey(fields, key)
			if !ok {
				continue
			}
			return scalarString(raw)
		}
		return "", nil
	}

	var err error
	if r.Instrument, err = pick("instrument"); err != nil {
		return fmt.Errorf("instrument: %w", err)
	}
	if r.Price, err = pick("price"); err != nil {
		return fmt.Errorf("price: %w", err)
	}
	if r.Action, err = pick("action"); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	if r.Opinion, err = pick("opinion"); err != nil {
		return fmt.Errorf("opinion: %w", err)
	}
	if r.Sentiment, err = pick("sentiment"); err != nil {
		return fmt.Errorf("sentiment: %w", err)
	}
	return nil
}

func lookupKey(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if raw, ok := fields[key]; ok {
		return raw, true
	}
	for k, raw := range fields {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return raw, true
		}
	}
	return nil, false
}

func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	default:
		// numbers, booleans and nested values keep their literal form
		return string(raw), nil
	}
}

func isRecordObject(fields map[string]json.RawMessage) bool {
	for _, aliases := range fieldAliases {
		for _, key := range aliases {
			if _, ok := lookupKey(fields, key); ok {
				return true
			}
		}
	}
	return false
}

// ParseRecords decodes an extractor response. It accepts a bare array, an
// object wrapping one array, or a single record object. Blank input and
// empty containers yield no records.
func ParseRecords(raw string) ([]Record, error) {
	body := bytes.TrimSpace([]byte(stripCodeFence(raw)))
	if len(body) == 0 {
		return []Record{}, nil
	}

	switch body[0] {
	case '[':
		records := []Record{}
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return records, nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("decode response object: %w", err)
		}
		if len(fields) == 0 {
			return []Record{}, nil
		}
		if isRecordObject(fields) {
			var record Record
			if err := json.Unmarshal(body, &record); err != nil {
				return nil, fmt.Errorf("decode record: %w", err)
			}
			return []Record{record}, nil
		}

		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			value := bytes.TrimSpace(fields[k])
			if len(value) == 0 || value[0] != '[' {
				continue
			}
			records := []Record{}
			if err := json.Unmarshal(value, &records); err != nil {
				return nil, fmt.Errorf("decode %q array: %w", k, err)
			}
			return records, nil
		}
		return nil, errors.New("response object has no record array")
	default:
		return nil, fmt.Errorf("response is not JSON: %q", truncate(string(body), 40))
	}
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "```")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
