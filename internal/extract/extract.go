// Package extract asks a language model for the financial instruments
// mentioned in a transcript.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = openai.GPT4o

// Result carries parsed records plus the model's raw response.
type Result struct {
	Records []Record
	Raw     string
}

// Extractor turns transcript text into instrument records.
type Extractor interface {
	Extract(ctx context.Context, text string) (Result, error)
}

// ExtractionError means the model call or its response could not be used.
// Raw holds whatever the model returned so callers can still show it.
type ExtractionError struct {
	Raw string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract records: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

const systemPrompt = `You read Korean speech-recognition transcripts of stock market commentary.
Recognition may be imperfect; correct obvious misrecognitions of company names from context.
Return a JSON object {"records": [...]} where each record has the keys
"instrument", "price", "action" (buy/sell/hold as spoken), "opinion" and "sentiment" (positive/negative/neutral).
Keep values in the language of the transcript. Return {"records": []} when no instrument is mentioned.`

// OpenAI is a chat-completion backed Extractor.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI wraps a client. An empty model selects DefaultModel.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{client: client, model: model}
}

// Extract sends the transcript and parses the JSON response.
func (e *OpenAI) Extract(ctx context.Context, text string) (Result, error) {
	if e == nil || e.client == nil {
		return Result{}, &ExtractionError{Err: errors.New("openai client is not configured")}
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Result{}, &ExtractionError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return Result{}, &ExtractionError{Err: errors.New("model returned no choices")}
	}

	raw := resp.Choices[0].Message.Content
	records, err := ParseRecords(raw)
	if err != nil {
		return Result{Raw: raw}, &ExtractionError{Raw: raw, Err: err}
	}
	return Result{Records: records, Raw: raw}, nil
}
