package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/vgrid/capture"
)

// Executor runs a JavaScript function expression in the page and returns
// its result as a string. Scripts used by this package always return
// strings (usually JSON).
type Executor interface {
	EvalString(ctx context.Context, js string, args ...any) (string, error)
}

// Tab is one stealth page opened by a Manager.
type Tab struct {
	Page *rod.Page
	URL  string
	mgr  *Manager
}

// OpenTab creates a stealth page, applies the configured viewport and
// navigates to pageURL.
func (m *Manager) OpenTab(ctx context.Context, pageURL string) (*Tab, error) {
	b := m.Browser()
	if b == nil {
		return nil, errors.New("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.Viewport.Width,
		Height:            m.cfg.Viewport.Height,
		DeviceScaleFactor: m.cfg.DeviceScaleFactor,
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	t := &Tab{Page: page, mgr: m}
	if err := t.Navigate(ctx, pageURL); err != nil {
		page.Close()
		return nil, err
	}
	return t, nil
}

// Navigate loads pageURL and waits for the load event. A load timeout is
// logged, not returned.
func (t *Tab) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	t.URL = pageURL
	return nil
}

// EvalString implements Executor.
func (t *Tab) EvalString(ctx context.Context, js string, args ...any) (string, error) {
	res, err := t.Page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Str(), nil
}

// Image captures the visible viewport as a PNG and decodes it.
func (t *Tab) Image(ctx context.Context) (*capture.Image, error) {
	data, err := t.Page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return capture.DecodePNG(bytes.NewReader(data))
}

// Title returns document.title.
func (t *Tab) Title(ctx context.Context) (string, error) {
	return t.EvalString(ctx, `() => document.title`)
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
