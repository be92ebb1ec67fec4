package screen

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kjstillabower/humidity-monitor/internal/animate"
)

// Terminal draws the screen on an ANSI terminal and prints alerts above it.
type Terminal struct {
	mu       sync.Mutex
	w        io.Writer
	barWidth int
	alerts   []string
}

func NewTerminal(w io.Writer, barWidth int) *Terminal {
	if barWidth <= 0 {
		barWidth = 40
	}
	return &Terminal{w: w, barWidth: barWidth}
}

// Alert implements Alerter. Alerts stay on screen until the next Draw.
func (t *Terminal) Alert(title, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerts = append(t.alerts, fmt.Sprintf("[%s] %s", title, message))
}

// Draw redraws the whole screen for s. bar is drawn by the animator so the fill
// matches s.Fraction.
func (t *Terminal) Draw(s State, a *animate.Animator) error {
	t.mu.Lock()
	alerts := t.alerts
	t.alerts = nil
	t.mu.Unlock()

	for _, line := range alerts {
		if _, err := fmt.Fprintf(t.w, "\r\033[K%s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(t.w, "\r\033[K%s", Line(s, a.Bar(t.barWidth)))
	return err
}

// Line renders one status line: humidity value, bar, and push status.
func Line(s State, bar string) string {
	value := "--"
	if s.Reading != nil {
		value = fmt.Sprintf("%.1f%%", s.Reading.Humidity)
		if s.Reading.Stale {
			value += " (stale)"
		}
	}
	updated := ""
	if s.Reading != nil && !s.Reading.Timestamp.IsZero() {
		updated = " at " + s.Reading.Timestamp.Local().Format(time.Kitchen)
	}
	return fmt.Sprintf("Humidity %s%s |%s| push: %s  [r]efresh [q]uit", value, updated, bar, s.Registration)
}
