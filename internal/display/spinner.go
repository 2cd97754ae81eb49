package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

// Spinner animates a status line while a job runs. When animate is false it
// prints the message once and the final message on Stop.
type Spinner struct {
	w       io.Writer
	colors  *ColorSystem
	animate bool
	delay   time.Duration

	mu      sync.Mutex
	message string
	active  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSpinner creates a spinner writing to w
func NewSpinner(w io.Writer, colors *ColorSystem, animate bool) *Spinner {
	return &Spinner{w: w, colors: colors, animate: animate, delay: 120 * time.Millisecond}
}

// Start shows message and begins animating
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.message = message
		return
	}
	s.message = message
	s.active = true

	if !s.animate {
		fmt.Fprintln(s.w, message)
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
}

// Update replaces the message
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	changed := s.message != message
	s.message = message
	active := s.active
	s.mu.Unlock()

	if active && changed && !s.animate {
		fmt.Fprintln(s.w, message)
	}
}

// Stop ends the animation and prints final, if not empty
func (s *Spinner) Stop(final string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	if s.animate {
		close(stopCh)
		<-doneCh
		fmt.Fprint(s.w, "\r\033[K")
	}
	if final != "" {
		fmt.Fprintln(s.w, final)
	}
}

func (s *Spinner) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.delay)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			message := s.message
			s.mu.Unlock()
			glyph := s.colors.Colorize(spinnerFrames[frame%len(spinnerFrames)], ColorBlue)
			fmt.Fprintf(s.w, "\r\033[K%s %s", glyph, message)
		}
	}
}
