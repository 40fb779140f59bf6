package report

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) SendCheck(_ context.Context, res CheckResult) error {
	return s.write(envelope{Type: "check", Data: res})
}

func (s *Stdout) SendRender(_ context.Context, res RenderResult) error {
	return s.write(envelope{Type: "render", Data: res})
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(e envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(e)
}
