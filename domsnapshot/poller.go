package domsnapshot

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/vgrid/idgen"
)

//go:embed snapshot.js
var Script string

var (
	// ErrSnapshotTimeout is returned when the page task does not finish in
	// time.
	ErrSnapshotTimeout = errors.New("domsnapshot: timeout")
	// ErrSnapshotFailed wraps the error reported by the page script.
	ErrSnapshotFailed = errors.New("domsnapshot: failed")
)

// Task states reported by the page script.
const (
	StatusPending = "PENDING"
	StatusWIP     = "WIP"
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// Executor evaluates a JavaScript function expression in the page.
type Executor interface {
	EvalString(ctx context.Context, js string, args ...any) (string, error)
}

type taskStatus struct {
	Status string          `json:"status"`
	Value  json.RawMessage `json:"value"`
	Error  string          `json:"error"`
}

// Poller starts a snapshot task in the page and polls it until it
// finishes. The page script runs in the background, so no single
// evaluation blocks for the whole snapshot.
type Poller struct {
	Exec     Executor
	Interval time.Duration // default 200ms
	Timeout  time.Duration // default 5m
	Logger   *slog.Logger
	IDs      idgen.Generator // task ids; default idgen.Default
}

func (p *Poller) defaults() (time.Duration, time.Duration, *slog.Logger) {
	interval, timeout, logger := p.Interval, p.Timeout, p.Logger
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return interval, timeout, logger
}

// Take snapshots the page.
func (p *Poller) Take(ctx context.Context) (*Frame, error) {
	if p.Exec == nil {
		return nil, errors.New("domsnapshot: nil executor")
	}
	interval, timeout, logger := p.defaults()

	ids := p.IDs
	if ids == nil {
		ids = idgen.Default
	}
	task := ids()
	start := time.Now()

	st, err := p.call(ctx, "start", task)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, err := p.Exec.EvalString(context.WithoutCancel(ctx), Script, "delete", task); err != nil {
			logger.Debug("domsnapshot: delete task", "task", task, "error", err)
		}
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		switch st.Status {
		case StatusSuccess:
			var f Frame
			if err := json.Unmarshal(st.Value, &f); err != nil {
				return nil, fmt.Errorf("domsnapshot: decode frame: %w", err)
			}
			logger.Info("domsnapshot: taken", "url", f.URL, "frames", countFrames(&f),
				"resources", len(f.ResourceURLs), "duration", time.Since(start))
			return &f, nil
		case StatusError:
			return nil, fmt.Errorf("%w: %s", ErrSnapshotFailed, st.Error)
		case StatusPending, StatusWIP:
		default:
			return nil, fmt.Errorf("domsnapshot: unknown task status %q", st.Status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w after %s", ErrSnapshotTimeout, timeout)
		case <-ticker.C:
		}

		if st, err = p.call(ctx, "poll", task); err != nil {
			return nil, err
		}
	}
}

func (p *Poller) call(ctx context.Context, op, task string) (taskStatus, error) {
	var st taskStatus
	raw, err := p.Exec.EvalString(ctx, Script, op, task)
	if err != nil {
		return st, fmt.Errorf("domsnapshot: %s: %w", op, err)
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return st, fmt.Errorf("domsnapshot: %s: decode status: %w", op, err)
	}
	return st, nil
}
