// Package safe holds the input guards vgrid applies at its edges: URL
// checks on configuration, identifier checks on artifact keys and bounded
// reads of service responses.
package safe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
)

var (
	// ErrUnsafeScheme is returned when a URL uses a scheme outside the
	// allowed set.
	ErrUnsafeScheme = errors.New("safe: unsupported URL scheme")

	// ErrTooLarge is returned by LimitedReadAll when the input exceeds
	// its cap.
	ErrTooLarge = errors.New("safe: body too large")
)

// WebSchemes are the schemes accepted when none are given.
var WebSchemes = []string{"http", "https"}

// ValidateURL checks that rawURL is absolute and uses one of schemes
// (WebSchemes when empty). Every scheme but file needs a host.
func ValidateURL(rawURL string, schemes ...string) error {
	if len(schemes) == 0 {
		schemes = WebSchemes
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(schemes, scheme) {
		return fmt.Errorf("%w %q", ErrUnsafeScheme, u.Scheme)
	}
	if scheme != "file" && u.Hostname() == "" {
		return fmt.Errorf("safe: URL %q has no host", rawURL)
	}
	return nil
}

// ValidateIdentifier rejects identifiers unsuitable for object keys and
// file names. Letters, digits, underscore, hyphen and dot are allowed;
// "." and ".." are not.
func ValidateIdentifier(s string) error {
	if s == "" || s == "." || s == ".." {
		return fmt.Errorf("safe: invalid identifier %q", s)
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("safe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and fails with ErrTooLarge
// past that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
