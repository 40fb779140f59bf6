package report

import "context"

// Callback delivers results through Go function calls. Either handler may
// be nil.
type Callback struct {
	OnCheck  func(ctx context.Context, res CheckResult) error
	OnRender func(ctx context.Context, res RenderResult) error
}

func (c *Callback) SendCheck(ctx context.Context, res CheckResult) error {
	if c.OnCheck != nil {
		return c.OnCheck(ctx, res)
	}
	return nil
}

func (c *Callback) SendRender(ctx context.Context, res RenderResult) error {
	if c.OnRender != nil {
		return c.OnRender(ctx, res)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
