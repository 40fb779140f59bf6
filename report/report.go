// Package report delivers capture results to output backends: JSON lines
// on a writer, a webhook, in-process callbacks, or several at once.
package report

import (
	"context"
	"time"
)

// CheckResult is the outcome of one classic checkpoint: a stitched
// screenshot matched against the baseline.
type CheckResult struct {
	CaptureID     string    `json:"capture_id"`
	Tag           string    `json:"tag"`
	SessionID     string    `json:"session_id,omitempty"`
	SessionURL    string    `json:"session_url,omitempty"`
	ScreenshotURL string    `json:"screenshot_url,omitempty"`
	ArtifactKey   string    `json:"artifact_key,omitempty"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	AsExpected    bool      `json:"as_expected"`
	At            time.Time `json:"at"`
}

// RenderOutcome is the final status of one render.
type RenderOutcome struct {
	RenderID      string `json:"render_id"`
	Browser       string `json:"browser"`
	Status        string `json:"status"`
	ImageLocation string `json:"image_location,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RenderResult is the outcome of one grid checkpoint.
type RenderResult struct {
	CaptureID string          `json:"capture_id"`
	Tag       string          `json:"tag"`
	URL       string          `json:"url"`
	Resources int             `json:"resources"`
	Renders   []RenderOutcome `json:"renders"`
	At        time.Time       `json:"at"`
}

// Failed reports whether any render ended in error.
func (r RenderResult) Failed() bool {
	for _, o := range r.Renders {
		if o.Error != "" || o.Status == "error" {
			return true
		}
	}
	return false
}

// Sink is the output interface.
type Sink interface {
	SendCheck(ctx context.Context, res CheckResult) error
	SendRender(ctx context.Context, res RenderResult) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
