// Package domcapture reads the text format produced by the in-page DOM
// capture script: a meta line, the stylesheets the script could not
// fetch, the cross-origin iframes it could not enter and the captured
// frame tree.
package domcapture

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

//go:embed capture.js
var Script string

// ErrMalformed is returned when the capture text does not follow the
// expected layout.
var ErrMalformed = errors.New("domcapture: malformed capture")

// Meta is the first line of a capture.
type Meta struct {
	Separator        string `json:"separator"`
	CSSStartToken    string `json:"cssStartToken"`
	CSSEndToken      string `json:"cssEndToken"`
	IFrameStartToken string `json:"iframeStartToken"`
	IFrameEndToken   string `json:"iframeEndToken"`
}

// DefaultMeta returns the tokens the bundled script uses.
func DefaultMeta() Meta {
	return Meta{
		Separator:        defaultSeparator,
		CSSStartToken:    defaultCSSToken,
		CSSEndToken:      defaultCSSToken,
		IFrameStartToken: `"` + defaultIFrameToken,
		IFrameEndToken:   defaultIFrameToken + `"`,
	}
}

func (m *Meta) applyDefaults() {
	d := DefaultMeta()
	if m.Separator == "" {
		m.Separator = d.Separator
	}
	if m.CSSStartToken == "" {
		m.CSSStartToken = d.CSSStartToken
	}
	if m.CSSEndToken == "" {
		m.CSSEndToken = d.CSSEndToken
	}
	if m.IFrameStartToken == "" {
		m.IFrameStartToken = d.IFrameStartToken
	}
	if m.IFrameEndToken == "" {
		m.IFrameEndToken = d.IFrameEndToken
	}
}

// Capture is a parsed capture.
type Capture struct {
	Meta              Meta
	Unfetched         []string
	CrossOriginFrames []string
	Root              *Node

	// Missing lists the unfetched stylesheets FillCSS could not retrieve.
	Missing []string
}

// Parse reads the output of the capture script.
func Parse(raw string) (*Capture, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	if len(lines) < 4 {
		return nil, fmt.Errorf("%w: %d lines", ErrMalformed, len(lines))
	}

	c := &Capture{}
	if err := json.Unmarshal([]byte(lines[0]), &c.Meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", ErrMalformed, err)
	}
	c.Meta.applyDefaults()

	section := 0
	var frame string
	for _, line := range lines[1:] {
		if line == c.Meta.Separator {
			section++
			if section > 2 {
				// trailing stats block
				break
			}
			continue
		}
		switch section {
		case 0:
			if line != "" {
				c.Unfetched = append(c.Unfetched, line)
			}
		case 1:
			if line != "" {
				c.CrossOriginFrames = append(c.CrossOriginFrames, line)
			}
		case 2:
			if frame == "" {
				frame = line
			}
		}
	}
	if section < 2 || frame == "" {
		return nil, fmt.Errorf("%w: missing frame", ErrMalformed)
	}

	c.Root = &Node{}
	if err := json.Unmarshal([]byte(frame), c.Root); err != nil {
		return nil, fmt.Errorf("%w: frame: %v", ErrMalformed, err)
	}
	return c, nil
}

// FetchFunc returns the body at url.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// FillCSS replaces every unfetched stylesheet token in the frames' CSS with
// the stylesheet text. Stylesheets that cannot be fetched become a
// "missing resource" comment and are listed in Missing. Only a cancelled
// context is returned as an error.
func (c *Capture) FillCSS(ctx context.Context, fetch FetchFunc) error {
	var (
		mu    sync.Mutex
		texts = make(map[string]string, len(c.Unfetched))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, u := range c.Unfetched {
		g.Go(func() error {
			body, err := fetch(gctx, u)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.Missing = append(c.Missing, u)
				return nil
			}
			texts[u] = string(body)
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	sort.Strings(c.Missing)

	var pairs []string
	for _, u := range c.Unfetched {
		text, ok := texts[u]
		if !ok {
			text = "/* missing resource: " + u + " */"
		}
		pairs = append(pairs, c.Meta.CSSStartToken+u+c.Meta.CSSEndToken, text)
	}
	if len(pairs) == 0 {
		return nil
	}
	r := strings.NewReplacer(pairs...)
	c.Root.Walk(func(n *Node) {
		if n.CSS != "" {
			n.CSS = r.Replace(n.CSS)
		}
	})
	return nil
}

// JSON serializes the frame tree.
func (c *Capture) JSON() ([]byte, error) {
	b, err := json.Marshal(c.Root)
	if err != nil {
		return nil, fmt.Errorf("domcapture: encode: %w", err)
	}
	return b, nil
}

// Executor evaluates a JavaScript function expression in the page.
type Executor interface {
	EvalString(ctx context.Context, js string, args ...any) (string, error)
}

// Take runs the capture script in the page and parses its output.
func Take(ctx context.Context, exec Executor) (*Capture, error) {
	raw, err := exec.EvalString(ctx, Script)
	if err != nil {
		return nil, fmt.Errorf("domcapture: run script: %w", err)
	}
	return Parse(raw)
}
