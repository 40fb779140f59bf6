// Package browser drives Chrome through Rod and adapts it to the capture
// interfaces: viewport screenshots, scroll and CSS-translate position
// providers, device pixel ratio lookup and element regions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/vgrid/geometry"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string

	// Headful disables headless mode for local launches.
	Headful   bool
	NoSandbox bool

	// Viewport is applied to every new tab. Default: 1024x768.
	Viewport          geometry.RectangleSize
	DeviceScaleFactor float64

	// NavigateTimeout bounds navigation and load waits. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Viewport.IsEmpty() {
		c.Viewport = geometry.RectangleSize{Width: 1024, Height: 768}
	}
	if c.DeviceScaleFactor <= 0 {
		c.DeviceScaleFactor = 1
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process (or remote connection).
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome or connects to the remote instance.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("browser: manager is closed")
	}
	if m.browser != nil {
		return nil
	}

	log := m.cfg.Logger
	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Headless(!m.cfg.Headful).NoSandbox(m.cfg.NoSandbox)
		l = l.Set("disable-blink-features", "AutomationControlled").Set("hide-scrollbars")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanup()
		return fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return nil
}

// Browser returns the current Rod handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close shuts Chrome down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}
