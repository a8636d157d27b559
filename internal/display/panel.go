package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// DefaultRedrawInterval is used when NewPanel gets a non-positive interval.
const DefaultRedrawInterval = 250 * time.Millisecond

// Panel redraws a Label on an io.Writer whenever its text changes.
//
// Usage:
//
//	p := NewPanel(label, os.Stdout, 250*time.Millisecond)
//	p.Start()
//	defer p.Stop()
//
// A Panel is single-use: Start may be called at most once and Stop releases
// the redraw goroutine. On a terminal each frame replaces the previous one
// and values are colored; otherwise frames are appended.
type Panel struct {
	label    *Label
	out      io.Writer
	interval time.Duration
	tty      bool

	lastVersion uint64
	lines       int // height of the last frame drawn on a terminal

	ticker   atomic.Pointer[time.Ticker]
	stopChan chan struct{}
	done     chan struct{}
	started  atomic.Bool
}

// NewPanel creates a panel for label writing to out.
func NewPanel(label *Label, out io.Writer, interval time.Duration) *Panel {
	if interval <= 0 {
		interval = DefaultRedrawInterval
	}
	return &Panel{
		label:    label,
		out:      out,
		interval: interval,
		tty:      isTerminal(out),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Start draws the current label and begins redrawing in a background goroutine.
// Panics if called more than once on the same Panel instance.
func (p *Panel) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("Panel.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	ticker := time.NewTicker(p.interval)
	p.ticker.Store(ticker)

	p.redraw()

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.redraw()
			}
		}
	}()
}

// Stop ends the redraw loop after drawing the final label text.
// Safe to call multiple times; only the first call has an effect.
func (p *Panel) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	p.redraw()
}

func (p *Panel) redraw() {
	text, version := p.label.Snapshot()
	if version == p.lastVersion {
		return
	}
	p.lastVersion = version

	if !p.tty {
		_, _ = io.WriteString(p.out, ensureNewline(text))
		return
	}

	var b strings.Builder
	if p.lines > 0 {
		fmt.Fprintf(&b, "\033[%dA\r\033[J", p.lines)
	}
	frame := ensureNewline(text)
	b.WriteString(Colorize(frame))
	p.lines = strings.Count(frame, "\n")
	_, _ = io.WriteString(p.out, b.String())
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

var (
	titleColor = color.New(color.Bold)
	valueColor = color.New(color.FgCyan)
	upColor    = color.New(color.FgGreen)
	downColor  = color.New(color.FgRed)
)

// Colorize highlights a status label: the first line bold, link flags green
// or red, other values cyan.
func Colorize(text string) string {
	lines := strings.SplitAfter(text, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		nl := line[len(body):]
		if i == 0 {
			lines[i] = titleColor.Sprint(body) + nl
			continue
		}
		lines[i] = colorizeFields(body) + nl
	}
	return strings.Join(lines, "")
}

// colorizeFields colors every "key: value" segment of a comma separated line.
func colorizeFields(line string) string {
	parts := strings.Split(line, ", ")
	for i, part := range parts {
		key, value, ok := strings.Cut(part, ": ")
		if !ok {
			continue
		}
		c := valueColor
		switch value {
		case "1":
			c = upColor
		case "0":
			c = downColor
		}
		parts[i] = key + ": " + c.Sprint(value)
	}
	return strings.Join(parts, ", ")
}
