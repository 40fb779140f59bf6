package capture

import (
	"errors"
	"fmt"
	"strings"
)

// StitchMode selects how the page is moved between captures.
type StitchMode int

const (
	// StitchScroll scrolls the window.
	StitchScroll StitchMode = iota
	// StitchCSS translates the document element with a CSS transform.
	StitchCSS
)

// ErrInvalidStitchMode is returned by ParseStitchMode.
var ErrInvalidStitchMode = errors.New("capture: invalid stitch mode")

// ParseStitchMode accepts "scroll" or "css" (case-insensitive). The empty
// string means scroll.
func ParseStitchMode(s string) (StitchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scroll":
		return StitchScroll, nil
	case "css":
		return StitchCSS, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStitchMode, s)
}

func (m StitchMode) String() string {
	if m == StitchCSS {
		return "css"
	}
	return "scroll"
}
