package domsnapshot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/vgrid/resource"
)

// pageTask mimics the in-page task table.
type pageTask struct {
	mu      sync.Mutex
	polls   int
	doneAt  int
	result  string
	failMsg string
	status  string
	ops     []string
	tasks   map[string]bool
}

func (p *pageTask) EvalString(_ context.Context, js string, args ...any) (string, error) {
	if js != Script {
		return "", errors.New("unexpected script")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	op, id := args[0].(string), args[1].(string)
	p.ops = append(p.ops, op)
	if p.tasks == nil {
		p.tasks = make(map[string]bool)
	}
	switch op {
	case "start":
		p.tasks[id] = true
		return `{"status":"WIP"}`, nil
	case "delete":
		delete(p.tasks, id)
		return "", nil
	}
	if !p.tasks[id] {
		return `{"status":"ERROR","error":"unknown task"}`, nil
	}
	p.polls++
	if p.status != "" {
		return `{"status":"` + p.status + `"}`, nil
	}
	if p.polls < p.doneAt {
		return `{"status":"WIP"}`, nil
	}
	if p.failMsg != "" {
		return `{"status":"ERROR","error":"` + p.failMsg + `"}`, nil
	}
	return `{"status":"SUCCESS","value":` + p.result + `}`, nil
}

const frameJSON = `{"url":"https://site.test/","cdt":[{"nodeType":9}],"resourceUrls":["https://cdn.test/a.png"],
"blobs":[{"url":"blob:https://site.test/1","type":"image/png","value":"aGVsbG8="}],
"frames":[{"url":"https://site.test/inner","cdt":[],"resourceUrls":[],"blobs":[],"frames":[]}]}`

func TestPoller_Success(t *testing.T) {
	page := &pageTask{doneAt: 3, result: frameJSON}
	p := &Poller{Exec: page, Interval: time.Millisecond}

	f, err := p.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if f.URL != "https://site.test/" || len(f.Frames) != 1 || len(f.Blobs) != 1 {
		t.Errorf("frame = %+v", f)
	}
	if page.polls != 3 {
		t.Errorf("polls = %d, want 3", page.polls)
	}
	// WHAT: The task entry is removed from the page once done.
	// WHY: Snapshot values can be large and would otherwise stay in the page.
	if len(page.tasks) != 0 || page.ops[len(page.ops)-1] != "delete" {
		t.Errorf("task not deleted: ops=%v", page.ops)
	}
}

func TestPoller_Error(t *testing.T) {
	p := &Poller{Exec: &pageTask{doneAt: 1, failMsg: "boom"}, Interval: time.Millisecond}
	_, err := p.Take(context.Background())
	if !errors.Is(err, ErrSnapshotFailed) || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("got %v", err)
	}
}

func TestPoller_Timeout(t *testing.T) {
	p := &Poller{Exec: &pageTask{doneAt: 1 << 30}, Interval: time.Millisecond, Timeout: 20 * time.Millisecond}
	_, err := p.Take(context.Background())
	if !errors.Is(err, ErrSnapshotTimeout) {
		t.Fatalf("got %v, want ErrSnapshotTimeout", err)
	}
}

func TestPoller_UnknownStatus(t *testing.T) {
	p := &Poller{Exec: &pageTask{status: "EXPLODED"}, Interval: time.Millisecond}
	if _, err := p.Take(context.Background()); err == nil || !strings.Contains(err.Error(), "EXPLODED") {
		t.Fatalf("got %v", err)
	}
}

func TestPoller_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Poller{Exec: &pageTask{doneAt: 1 << 30}, Interval: time.Hour}
	if _, err := p.Take(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestScriptIsFunctionExpression(t *testing.T) {
	if !strings.HasPrefix(Script, "(op, id) =>") {
		t.Error("snapshot.js must be a function expression taking (op, id)")
	}
}

func TestResourceContents(t *testing.T) {
	var f Frame
	if err := json.Unmarshal([]byte(frameJSON), &f); err != nil {
		t.Fatal(err)
	}
	got, err := f.ResourceContents()
	if err != nil {
		t.Fatalf("ResourceContents: %v", err)
	}
	r := got["blob:https://site.test/1"]
	if r == nil || string(r.Content()) != "hello" || r.ContentType != "image/png" {
		t.Errorf("blob resource = %+v", r)
	}

	f.Blobs[0].Value = "!!!"
	if _, err := f.ResourceContents(); err == nil {
		t.Error("invalid base64 accepted")
	}
}

func TestMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png"))
		case "/inner.css":
			w.Header().Set("Content-Type", "text/css")
			w.Write([]byte("b{background:url(b.png)}"))
		case "/b.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("b"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := Frame{
		URL:          srv.URL + "/",
		CDT:          json.RawMessage(`[{"nodeType":9}]`),
		ResourceURLs: []string{srv.URL + "/a.png"},
		Blobs:        []Blob{{URL: srv.URL + "/inline.css", Type: "text/css", Value: base64.StdEncoding.EncodeToString([]byte("a{}"))}},
		Frames: []Frame{{
			URL:          srv.URL + "/inner",
			CDT:          json.RawMessage(`[]`),
			ResourceURLs: []string{srv.URL + "/inner.css"},
		}},
	}
	resolver, err := resource.NewResolver(resource.NewCache(), resource.NewFetcher(resource.WithBackoff(time.Millisecond)))
	if err != nil {
		t.Fatal(err)
	}

	dom, all, err := f.Mapping(context.Background(), resolver)
	if err != nil {
		t.Fatalf("Mapping: %v", err)
	}
	for _, u := range []string{"/a.png", "/inline.css", "/inner", "/inner.css", "/b.png"} {
		if all[srv.URL+u] == nil {
			t.Errorf("missing %s in mapping", u)
		}
	}
	inner := all[srv.URL+"/inner"]
	if inner.ContentType != resource.DOMContentType || inner.URL != srv.URL+"/inner" {
		t.Errorf("child frame dom = %s %s", inner.URL, inner.ContentType)
	}

	var doc struct {
		Resources map[string]resource.HashObject `json:"resources"`
	}
	if err := json.Unmarshal(dom.Content(), &doc); err != nil {
		t.Fatal(err)
	}
	// WHAT: The root DOM lists its own resources and child frame DOMs, not grandchildren.
	if _, ok := doc.Resources[srv.URL+"/inner"]; !ok {
		t.Error("root dom does not reference child frame")
	}
	if _, ok := doc.Resources[srv.URL+"/b.png"]; ok {
		t.Error("root dom references a child frame resource")
	}
	if doc.Resources[srv.URL+"/inner"].Hash != inner.SHA256() {
		t.Error("child frame hash mismatch")
	}
}
