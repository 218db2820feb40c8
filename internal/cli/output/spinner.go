package output

import (
	"fmt"
	"io"
	"time"
)

// Spinner is a terminal activity indicator for operations that hit the
// network. It animates on stderr so stdout stays clean for piping.
type Spinner struct {
	w      io.Writer
	msg    string
	styles Styles
	stop   chan struct{}
	done   chan struct{}
	active bool
}

// NewSpinner builds a spinner bound to the renderer's error stream. Callers
// only start one when running on a terminal.
func (r *Renderer) NewSpinner(msg string) *Spinner {
	return &Spinner{
		w:      r.errOut,
		msg:    msg,
		styles: r.styles,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Start begins animating until Success or Fail is called.
func (s *Spinner) Start() {
	if s.active {
		return
	}
	s.active = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-s.stop:
				_, _ = fmt.Fprint(s.w, "\r\033[K")
				return
			case <-ticker.C:
				_, _ = fmt.Fprintf(s.w, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.msg)
				i++
			}
		}
	}()
}

// Success stops the animation and prints a confirmation line.
func (s *Spinner) Success(msg string) {
	s.finish(s.styles.Success.Render("✓ " + msg))
}

// Fail stops the animation and prints a failure line.
func (s *Spinner) Fail(msg string) {
	s.finish(s.styles.Error.Render("✗ " + msg))
}

func (s *Spinner) finish(line string) {
	if s.active {
		close(s.stop)
		<-s.done
		s.active = false
	}
	_, _ = fmt.Fprintln(s.w, line)
}
