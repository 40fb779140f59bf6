// Package extract finds the sub-resource URLs referenced by CSS and SVG
// documents. Values are returned as written (unescaped, fragment
// stripped); resolving them against a base URL is the caller's job.
package extract

import (
	"strconv"
	"strings"

	"github.com/gorilla/css/scanner"

	"github.com/hazyhaar/vgrid/domcapture"
)

// CSSURLs returns the URLs referenced by css through url(...), @import and
// image-set(...) string arguments. Comments are skipped by the tokenizer.
// The result is de-duplicated and keeps first-seen order.
func CSSURLs(css string) []string {
	var (
		found        []string
		stack        []string // open function names, "" for plain parentheses
		importNext   bool
		urlFnPending bool
	)

	s := scanner.New(css)
	for {
		tok := s.Next()
		if tok.Type == scanner.TokenEOF || tok.Type == scanner.TokenError {
			break
		}
		switch tok.Type {
		case scanner.TokenS, scanner.TokenComment:
			continue

		case scanner.TokenAtKeyword:
			importNext = strings.EqualFold(tok.Value, "@import")
			continue

		case scanner.TokenURI:
			found = append(found, uriValue(tok.Value))

		case scanner.TokenString:
			top := ""
			if len(stack) > 0 {
				top = stack[len(stack)-1]
			}
			switch {
			case importNext:
				found = append(found, unquote(tok.Value))
			case urlFnPending:
				found = append(found, unquote(tok.Value))
			case strings.Contains(top, "image-set("):
				found = append(found, unquote(tok.Value))
			}

		case scanner.TokenFunction:
			name := strings.ToLower(tok.Value)
			stack = append(stack, name)
			importNext = false
			urlFnPending = name == "url("
			continue

		case scanner.TokenChar:
			switch tok.Value {
			case "(":
				stack = append(stack, "")
			case ")":
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
			}
		}
		importNext = false
		urlFnPending = false
	}
	return normalize(found)
}

// uriValue extracts the target of a url(...) token.
func uriValue(raw string) string {
	v := raw
	if i := strings.IndexByte(v, '('); i >= 0 {
		v = v[i+1:]
	}
	v = strings.TrimSuffix(v, ")")
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
		return unquote(v)
	}
	return unescape(v)
}

// unquote strips matching quotes from a CSS string token and resolves its
// escapes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return unescape(s)
}

// unescape resolves CSS escapes: \HHHHHH (1-6 hex digits, optional
// trailing whitespace), escaped newlines, and \x for any other x.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		j := i
		for j < len(s) && j-i < 6 && isHex(s[j]) {
			j++
		}
		if j > i {
			if r, err := strconv.ParseUint(s[i:j], 16, 32); err == nil {
				b.WriteRune(rune(r))
			}
			if j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
				j++
			}
			i = j - 1
			continue
		}
		if s[i] == '\n' {
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// normalize trims, drops capture sentinels, strips #fragments, drops pure
// fragments and removes duplicates. data: URLs are kept whole since '#'
// may be part of their payload.
func normalize(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if domcapture.IsSentinel(u) {
			continue
		}
		if !IsDataURL(u) {
			if i := strings.IndexByte(u, '#'); i >= 0 {
				u = u[:i]
			}
		}
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
