// Package stt transcribes encoded audio chunks through a remote speech-to-text service.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// DefaultModel is the Whisper model used when none is configured.
const DefaultModel = openai.Whisper1

// Request is one chunk ready for transcription.
type Request struct {
	Seq      int
	Audio    []byte // complete WAV file
	Language string
	Prompt   string
}

// Transcriber converts one encoded audio chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// TranscriptionError reports a failed chunk. The stream continues without it.
type TranscriptionError struct {
	Seq int
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe chunk %d: %v", e.Seq, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Whisper calls the OpenAI audio transcription endpoint.
type Whisper struct {
	client *openai.Client
	model  string
}

// NewWhisper wraps an OpenAI client. An empty model selects DefaultModel.
func NewWhisper(client *openai.Client, model string) *Whisper {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Whisper{client: client, model: model}
}

// Transcribe uploads the chunk and returns the recognized text.
// Every failure is returned as *TranscriptionError.
func (w *Whisper) Transcribe(ctx context.Context, req Request) (string, error) {
	if w == nil || w.client == nil {
		return "", &TranscriptionError{Seq: req.Seq, Err: errors.New("whisper client is not configured")}
	}
	if len(req.Audio) == 0 {
		return "", &TranscriptionError{Seq: req.Seq, Err: errors.New("empty audio payload")}
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: fmt.Sprintf("chunk-%06d.wav", req.Seq),
		Reader:   bytes.NewReader(req.Audio),
		Language: strings.TrimSpace(req.Language),
		Prompt:   req.Prompt,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", &TranscriptionError{Seq: req.Seq, Err: err}
	}
	return resp.Text, nil
}

// NewOpenAIClient builds a client for the given key and optional base URL override.
func NewOpenAIClient(apiKey string, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}
