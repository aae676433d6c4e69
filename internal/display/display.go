// Package display renders live transcription lines and end-of-run reports
// for a terminal.
package display

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/otumarastudio/youtube-summarizer/internal/archive"
	"github.com/otumarastudio/youtube-summarizer/internal/audio"
	"github.com/otumarastudio/youtube-summarizer/internal/dispatch"
	"github.com/otumarastudio/youtube-summarizer/internal/extract"
	"github.com/otumarastudio/youtube-summarizer/internal/session"
)

const emptyField = "-"

type styles struct {
	live    lipgloss.Style
	header  lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		live:    r.NewStyle().Foreground(lipgloss.Color("#00FFFF")),
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")),
		label:   r.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("#666666")),
		warning: r.NewStyle().Foreground(lipgloss.Color("#FFFF00")).Bold(true),
		err:     r.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
	}
}

// Printer writes user-facing output. Color is only used when w is a terminal.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	styles styles
}

// New builds a printer whose color profile is detected from w.
func New(w io.Writer) *Printer {
	return &Printer{w: w, styles: newStyles(lipgloss.NewRenderer(w))}
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

// Listening announces the capture device once a run has started.
func (p *Printer) Listening(device string, socketHint bool) {
	line := fmt.Sprintf("listening on %s", device)
	hint := "press Ctrl+C to finish"
	if socketHint {
		hint = "press Ctrl+C or run `stocklisten stop` to finish"
	}
	p.println(p.styles.header.Render(line) + " " + p.styles.dim.Render("("+hint+")"))
}

// Segment prints one live transcription line.
func (p *Printer) Segment(segment dispatch.Segment) {
	p.println(p.styles.live.Render("🎤 " + segment.Text))
}

// Warn prints a highlighted warning line.
func (p *Printer) Warn(message string) {
	p.println(p.styles.warning.Render("warning: " + message))
}

// Report prints the transcript and analysis of a finished run.
func (p *Printer) Report(result session.Result) {
	var b strings.Builder
	s := p.styles

	if result.CaptureErr != nil {
		fmt.Fprintln(&b, s.err.Render("capture aborted: "+result.CaptureErr.Error()))
	}
	if result.DrainErr != nil {
		fmt.Fprintln(&b, s.warning.Render(fmt.Sprintf("transcription drain timed out; %d chunk(s) dropped", result.Stats.Dropped)))
	}

	fmt.Fprintln(&b, s.header.Render("── transcript ──"))
	if strings.TrimSpace(result.Transcript) == "" {
		fmt.Fprintln(&b, s.dim.Render("(empty)"))
	} else {
		fmt.Fprintln(&b, result.Transcript)
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, s.header.Render("── analysis ──"))
	var extractErr *extract.ExtractionError
	switch {
	case errors.Is(result.AnalysisErr, session.ErrEmptyTranscript):
		fmt.Fprintln(&b, s.dim.Render("nothing to analyze"))
	case errors.As(result.AnalysisErr, &extractErr):
		fmt.Fprintln(&b, s.err.Render("extraction failed: "+extractErr.Err.Error()))
		if strings.TrimSpace(extractErr.Raw) != "" {
			fmt.Fprintln(&b, s.label.Render("raw response:"))
			fmt.Fprintln(&b, extractErr.Raw)
		}
	case result.AnalysisErr != nil:
		fmt.Fprintln(&b, s.err.Render("extraction failed: "+result.AnalysisErr.Error()))
	case len(result.Records) == 0:
		fmt.Fprintln(&b, s.dim.Render("no instrument mentions found"))
	default:
		p.writeRecords(&b, result.Records)
	}

	fmt.Fprintln(&b)
	fmt.Fprint(&b, s.dim.Render(fmt.Sprintf(
		"chunks %d · transcribed %d · empty %d · failed %d · skipped %d · dropped %d · %s · %s audio",
		result.Chunks,
		result.Stats.Transcribed,
		result.Stats.Empty,
		result.Stats.Failed,
		result.Stats.Skipped,
		result.Stats.Dropped,
		result.FinishedAt.Sub(result.StartedAt).Round(time.Second),
		humanize.Bytes(uint64(max(result.BytesCaptured, 0))),
	)))

	p.println(b.String())
}

func (p *Printer) writeRecords(b *strings.Builder, records []extract.Record) {
	s := p.styles
	for i, rec := range records {
		fields := []struct {
			label string
			value string
		}{
			{"종목", rec.Instrument},
			{"가격", rec.Price},
			{"액션", rec.Action},
			{"의견", rec.Opinion},
			{"감성", rec.Sentiment},
		}
		for j, f := range fields {
			prefix := "    "
			if j == 0 {
				prefix = fmt.Sprintf("%-4s", fmt.Sprintf("%d.", i+1))
			}
			fmt.Fprintf(b, "%s%s %s\n", prefix, s.label.Render(f.label+":"), orEmpty(f.value))
		}
	}
}

// Devices prints one line per input device; the default is marked with *.
func (p *Printer) Devices(devices []audio.Device) {
	if len(devices) == 0 {
		p.println("no audio devices found")
		return
	}
	var b strings.Builder
	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(&b,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	p.println(strings.TrimRight(b.String(), "\n"))
}

// History prints archived runs, newest first, with their instruments.
func (p *Printer) History(runs []archive.Run, records map[string][]extract.Record) {
	if len(runs) == 0 {
		p.println("no archived runs")
		return
	}
	s := p.styles
	var b strings.Builder
	for _, run := range runs {
		fmt.Fprintf(&b, "%s %s %s\n",
			s.header.Render(run.StartedAt.Local().Format("2006-01-02 15:04")),
			s.dim.Render(run.ID),
			s.dim.Render(fmt.Sprintf("(%s, %d segments, %d records)",
				run.FinishedAt.Sub(run.StartedAt).Round(time.Second), run.Segments, run.Records)),
		)
		fmt.Fprintf(&b, "  %s\n", orEmpty(truncate(run.Transcript, 80)))
		instruments := make([]string, 0, len(records[run.ID]))
		for _, rec := range records[run.ID] {
			if rec.Instrument != "" {
				instruments = append(instruments, rec.Instrument)
			}
		}
		if len(instruments) > 0 {
			fmt.Fprintf(&b, "  %s %s\n", s.label.Render("종목:"), strings.Join(instruments, ", "))
		}
	}
	p.println(strings.TrimRight(b.String(), "\n"))
}

func orEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return emptyField
	}
	return value
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
