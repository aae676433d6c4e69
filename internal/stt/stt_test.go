package stt

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newWhisperServer(t *testing.T, handler http.HandlerFunc) *Whisper {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewWhisper(NewOpenAIClient("test-key", server.URL+"/v1/"), "")
}

func TestWhisperTranscribeSendsMultipartRequest(t *testing.T) {
	w := newWhisperServer(t, func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-1", r.FormValue("model"))
		require.Equal(t, "ko", r.FormValue("language"))
		require.Equal(t, "삼성전자, SK하이닉스", r.FormValue("prompt"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "chunk-000003.wav", header.Filename)
		body, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, []byte("RIFFfake"), body)

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]string{"text": "삼성전자 매수"})
	})

	text, err := w.Transcribe(context.Background(), Request{
		Seq:      3,
		Audio:    []byte("RIFFfake"),
		Language: "ko",
		Prompt:   "삼성전자, SK하이닉스",
	})
	require.NoError(t, err)
	require.Equal(t, "삼성전자 매수", text)
}

func TestWhisperTranscribeWrapsServiceErrors(t *testing.T) {
	w := newWhisperServer(t, func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(http.StatusTooManyRequests)
		_, _ = rw.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	})

	_, err := w.Transcribe(context.Background(), Request{Seq: 7, Audio: []byte("RIFF")})
	var terr *TranscriptionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 7, terr.Seq)
	require.Contains(t, err.Error(), "chunk 7")
}

func TestWhisperTranscribeRejectsEmptyAudio(t *testing.T) {
	w := NewWhisper(NewOpenAIClient("k", ""), "whisper-1")
	_, err := w.Transcribe(context.Background(), Request{Seq: 1})
	var terr *TranscriptionError
	require.ErrorAs(t, err, &terr)
}

func TestWhisperTranscribeWithoutClient(t *testing.T) {
	var w *Whisper
	_, err := w.Transcribe(context.Background(), Request{Seq: 2, Audio: []byte{1}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "not configured")
}

func TestNewWhisperDefaultsModel(t *testing.T) {
	require.Equal(t, DefaultModel, NewWhisper(nil, "  ").model)
	require.Equal(t, "custom", NewWhisper(nil, "custom").model)
}
