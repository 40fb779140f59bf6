// Package resource resolves the sub-resources of a captured page into a
// bundle the render service can reproduce it from: it fetches resources,
// follows CSS and SVG references, hashes content and caches what it
// learned between captures.
package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
)

const (
	// MaxResourceSize is the largest content the render service accepts.
	MaxResourceSize = 15_000_000
	// truncatedSize leaves room for request framing once content was cut.
	truncatedSize = MaxResourceSize - 100_000

	// HashFormat is the only digest the render service understands.
	HashFormat = "sha256"
)

// Kind classifies a resource by what it may reference.
type Kind int

const (
	KindOther Kind = iota
	KindCSS
	KindSVG
)

func (k Kind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindSVG:
		return "svg"
	}
	return "other"
}

// KindOf classifies by MIME type, then by URL extension when the MIME type
// is missing or generic.
func KindOf(contentType, rawURL string) Kind {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case "text/css":
		return KindCSS
	case "image/svg+xml":
		return KindSVG
	case "", "application/octet-stream", "text/plain", "binary/octet-stream":
		// fall through to the extension
	default:
		return KindOther
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css":
		return KindCSS
	case ".svg":
		return KindSVG
	}
	return KindOther
}

// HashObject is how the render service refers to uploaded content.
type HashObject struct {
	HashFormat  string `json:"hashFormat"`
	Hash        string `json:"hash"`
	ContentType string `json:"contentType"`
}

// Resource is one URL-addressable asset. Its sha256 is computed on demand
// and reset whenever the content changes. A Resource built by WithHash has
// no content and a fixed hash.
type Resource struct {
	URL         string
	ContentType string

	mu      sync.Mutex
	content []byte
	hash    string
	fixed   bool
}

// New builds a resource, truncating content beyond MaxResourceSize.
func New(rawURL, contentType string, content []byte) *Resource {
	r := &Resource{URL: rawURL, ContentType: contentType}
	r.SetContent(content)
	return r
}

// WithHash builds a content-less resource known only by its digest, as
// replayed from the cache.
func WithHash(rawURL, contentType, hash string) *Resource {
	return &Resource{URL: rawURL, ContentType: contentType, hash: hash, fixed: true}
}

// SetContent replaces the content and invalidates the memoized hash.
func (r *Resource) SetContent(content []byte) {
	if len(content) > MaxResourceSize {
		content = content[:truncatedSize]
	}
	r.mu.Lock()
	r.content = content
	r.hash = ""
	r.fixed = false
	r.mu.Unlock()
}

// Content returns the raw bytes, nil for hash-only resources.
func (r *Resource) Content() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content
}

// HasContent reports whether the resource carries bytes.
func (r *Resource) HasContent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content != nil
}

// SHA256 returns the hex digest of the content.
func (r *Resource) SHA256() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hash == "" && !r.fixed {
		sum := sha256.Sum256(r.content)
		r.hash = hex.EncodeToString(sum[:])
	}
	return r.hash
}

// HashObject returns the descriptor sent to the render service.
func (r *Resource) HashObject() HashObject {
	return HashObject{HashFormat: HashFormat, Hash: r.SHA256(), ContentType: r.ContentType}
}

// Kind classifies the resource.
func (r *Resource) Kind() Kind { return KindOf(r.ContentType, r.URL) }
