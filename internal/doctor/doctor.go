// Package doctor runs readiness diagnostics for config, credentials, audio,
// the OpenAI endpoint, the run archive, and the metrics address.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/otumarastudio/youtube-summarizer/internal/archive"
	"github.com/otumarastudio/youtube-summarizer/internal/audio"
	"github.com/otumarastudio/youtube-summarizer/internal/config"
	"github.com/otumarastudio/youtube-summarizer/internal/stt"
	"github.com/otumarastudio/youtube-summarizer/internal/vad"
)

const checkTimeout = 5 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	keyName := cfg.Config.OpenAI.APIKeyEnv
	checks = append(checks, checkEnv(keyName, func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, fmt.Sprintf("%s is set", keyName), fmt.Sprintf("%s is empty; set it in the environment or .env", keyName)))

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	if cfg.Config.VAD.Enable {
		checks = append(checks, checkVAD(cfg.Config))
	}

	if key := strings.TrimSpace(os.Getenv(keyName)); key != "" {
		client := stt.NewOpenAIClient(key, cfg.Config.OpenAI.BaseURL)
		checks = append(checks, checkOpenAI(ctx, client, cfg.Config.Transcription.Model))
	}

	if cfg.Config.Archive.Enable {
		checks = append(checks, checkArchive(ctx, cfg.Config.Archive.Path))
	}

	if addr := cfg.Config.Metrics.Listen; addr != "" {
		checks = append(checks, checkMetrics(addr))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	backend, err := audio.ParseBackend(cfg.Audio.Backend)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	selection, err := audio.SelectDevice(ctx, backend, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q via %s", selection.Device.ID, backend)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkVAD(cfg config.Config) Check {
	_, err := vad.New(vad.Config{
		SampleRate:  cfg.Audio.SampleRate,
		Mode:        cfg.VAD.Mode,
		MinSpeechMS: cfg.VAD.MinSpeechMS,
	})
	if err != nil {
		return Check{Name: "vad", Pass: false, Message: err.Error()}
	}
	return Check{Name: "vad", Pass: true, Message: fmt.Sprintf("mode %d at %d Hz", cfg.VAD.Mode, cfg.Audio.SampleRate)}
}

// checkOpenAI lists models to confirm the key and endpoint work.
func checkOpenAI(ctx context.Context, client *openai.Client, model string) Check {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	list, err := client.ListModels(ctx)
	if err != nil {
		return Check{Name: "openai", Pass: false, Message: fmt.Sprintf("list models failed: %v", err)}
	}
	for _, m := range list.Models {
		if m.ID == model {
			return Check{Name: "openai", Pass: true, Message: fmt.Sprintf("reachable; %s available", model)}
		}
	}
	return Check{Name: "openai", Pass: true, Message: fmt.Sprintf("reachable; %d models listed, %s not among them", len(list.Models), model)}
}

// checkArchive opens the archive to confirm its directory is writable.
func checkArchive(ctx context.Context, configured string) Check {
	path, err := archive.ResolvePath(configured)
	if err != nil {
		return Check{Name: "archive", Pass: false, Message: err.Error()}
	}
	store, err := archive.Open(ctx, path)
	if err != nil {
		return Check{Name: "archive", Pass: false, Message: err.Error()}
	}
	_ = store.Close()
	return Check{Name: "archive", Pass: true, Message: fmt.Sprintf("writable at %s", path)}
}

func checkMetrics(addr string) Check {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{Name: "metrics", Pass: false, Message: fmt.Sprintf("cannot bind %s: %v", addr, err)}
	}
	_ = listener.Close()
	return Check{Name: "metrics", Pass: true, Message: fmt.Sprintf("%s is free", addr)}
}
