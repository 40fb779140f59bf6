package domcapture

import (
	"encoding/json"
	"strings"
)

const (
	defaultSeparator   = "-----"
	defaultCSSToken    = "#####"
	defaultIFrameToken = "@@@@@"
)

// Rect is an element's bounding client rect.
type Rect struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
}

// ImageSize is the natural size of a background image.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Node is one captured DOM node. Text nodes have TagName "#text" and only
// Text set. A cross-origin iframe's content is a single child with only
// CrossOriginXPath set; it is serialized back as the sentinel string the
// capture script produced. Frame roots additionally carry CSS, Images and
// the version fields.
type Node struct {
	TagName       string               `json:"tagName,omitempty"`
	Style         map[string]string    `json:"style,omitempty"`
	Rect          *Rect                `json:"rect,omitempty"`
	Attributes    map[string]string    `json:"attributes,omitempty"`
	ChildNodes    []*Node              `json:"childNodes,omitempty"`
	Text          string               `json:"text,omitempty"`
	CSS           string               `json:"css,omitempty"`
	Images        map[string]ImageSize `json:"images,omitempty"`
	Version       string               `json:"version,omitempty"`
	ScriptVersion string               `json:"scriptVersion,omitempty"`

	CrossOriginXPath string `json:"-"`
}

type plainNode Node

// UnmarshalJSON accepts either a node object or a cross-origin sentinel
// string.
func (n *Node) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Node{CrossOriginXPath: UnwrapSentinel(s)}
		return nil
	}
	return json.Unmarshal(b, (*plainNode)(n))
}

// MarshalJSON writes cross-origin placeholders back as sentinel strings.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.CrossOriginXPath != "" {
		return json.Marshal(defaultIFrameToken + n.CrossOriginXPath + defaultIFrameToken)
	}
	return json.Marshal((*plainNode)(n))
}

// Walk calls fn for n and every descendant, depth first.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.ChildNodes {
		c.Walk(fn)
	}
}

// IsSentinel reports whether s is a token-wrapped placeholder rather than
// a URL: either a stylesheet the capture script could not fetch or a
// cross-origin iframe path.
func IsSentinel(s string) bool {
	return wrapped(s, defaultCSSToken) || wrapped(s, defaultIFrameToken)
}

// UnwrapSentinel returns the URL or xpath inside a sentinel, or s itself.
func UnwrapSentinel(s string) string {
	for _, tok := range []string{defaultCSSToken, defaultIFrameToken} {
		if wrapped(s, tok) {
			return s[len(tok) : len(s)-len(tok)]
		}
	}
	return s
}

func wrapped(s, tok string) bool {
	return len(s) >= 2*len(tok) && strings.HasPrefix(s, tok) && strings.HasSuffix(s, tok)
}
