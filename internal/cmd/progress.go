package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"

	"github.com/Iron-Ham/pixbridge/internal/config"
)

var (
	progressLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBusyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Italic(true)
)

// terminalProgress renders worker progress as a single redrawn line.
type terminalProgress struct {
	mu            sync.Mutex
	w             io.Writer
	bar           progress.Model
	width         int
	percent       float64
	indeterminate bool
	drawn         bool
}

// newTerminalProgress returns nil when progress is disabled or f is not a
// terminal.
func newTerminalProgress(cfg config.ProgressConfig, f *os.File) *terminalProgress {
	if !cfg.Enabled || !term.IsTerminal(f.Fd()) {
		return nil
	}
	return newProgressWriter(f, cfg.Width)
}

func newProgressWriter(w io.Writer, width int) *terminalProgress {
	if width <= 0 {
		width = config.Default().Progress.Width
	}
	return &terminalProgress{
		w:     w,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(width)),
		width: width,
	}
}

// SetValue implements bridge.ProgressSink.
func (p *terminalProgress) SetValue(percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.percent = min(max(percent, 0), 100)
	p.redraw()
}

// SetIndeterminate implements bridge.ProgressSink.
func (p *terminalProgress) SetIndeterminate(indeterminate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indeterminate = indeterminate
	p.redraw()
}

// Done ends the progress line.
func (p *terminalProgress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.w)
		p.drawn = false
	}
}

func (p *terminalProgress) redraw() {
	var line string
	if p.indeterminate {
		line = progressBusyStyle.Render(padRight("working...", p.width+5))
	} else {
		line = p.bar.ViewAs(p.percent / 100)
	}
	fmt.Fprintf(p.w, "\r%s %s", progressLabelStyle.Render("progress"), line)
	p.drawn = true
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
