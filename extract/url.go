package extract

import (
	"fmt"
	"net/url"
	"strings"
)

// IsDataURL reports whether u carries its payload inline.
func IsDataURL(u string) bool {
	return len(u) >= 5 && strings.EqualFold(u[:5], "data:")
}

// IsHTTP reports whether u is an absolute http(s) URL.
func IsHTTP(u string) bool {
	p, err := url.Parse(u)
	if err != nil {
		return false
	}
	return (p.Scheme == "http" || p.Scheme == "https") && p.Host != ""
}

// Absolutize resolves ref against base. data: references are returned
// untouched.
func Absolutize(base, ref string) (string, error) {
	if IsDataURL(ref) {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("extract: base url %q: %w", base, err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("extract: ref url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

// AbsolutizeAll resolves every ref against base, skipping those that do
// not parse.
func AbsolutizeAll(base string, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if u, err := Absolutize(base, ref); err == nil {
			out = append(out, u)
		}
	}
	return out
}
