// Package rendertest provides an in-memory render and comparison service
// for tests.
package rendertest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hazyhaar/vgrid/render"
)

// Default credentials accepted by the server.
const (
	APIKey      = "test-api-key"
	AccessToken = "test-access-token"
)

// Server is a fake render and comparison service.
type Server struct {
	*httptest.Server

	// PendingPolls is how many status polls report "rendering" before a
	// render is done.
	PendingPolls int

	mu          sync.Mutex
	failRenders map[string]string
	resources   map[string][]byte
	contentTy   map[string]string
	renders     map[string]*renderState
	sessions    map[string]*session
	images      map[string]upload
	failures    []int
	calls       map[string]int
}

type renderState struct {
	req   render.RenderRequest
	polls int
}

type upload struct {
	body        []byte
	contentType string
}

type session struct {
	start   render.SessionStartInfo
	matches []render.MatchWindowData
}

// NewServer starts a server that is closed when t ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		failRenders: make(map[string]string),
		resources:   make(map[string][]byte),
		contentTy:   make(map[string]string),
		renders:     make(map[string]*renderState),
		sessions:    make(map[string]*session),
		images:      make(map[string]upload),
		calls:       make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(s.injectFailures)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/renderinfo", s.handleRenderInfo)
		r.Post("/running", s.handleStartSession)
		r.Post("/running/{id}", s.handleMatchWindow)
		r.Delete("/running/{id}", s.handleStopSession)
	})
	r.Route("/service", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/render", s.handleRender)
		r.Post("/render-status", s.handleRenderStatus)
		r.Head("/resources/sha256/{hash}", s.handleCheckResource)
		r.Put("/resources/sha256/{hash}", s.handlePutResource)
	})
	r.Put("/results/{id}", s.handleUpload)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// FailNext makes the next len(codes) requests answer with those status
// codes, in order.
func (s *Server) FailNext(codes ...int) {
	s.mu.Lock()
	s.failures = append(s.failures, codes...)
	s.mu.Unlock()
}

// FailRender makes the render end in error with msg.
func (s *Server) FailRender(renderID, msg string) {
	s.mu.Lock()
	s.failRenders[renderID] = msg
	s.mu.Unlock()
}

// Calls returns how many requests reached the named handler.
func (s *Server) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

// Resource returns uploaded content by hash.
func (s *Server) Resource(hash string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.resources[hash]
	return b, ok
}

// Preload stores content as if it had been uploaded earlier.
func (s *Server) Preload(content []byte) string {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	s.mu.Lock()
	s.resources[hash] = content
	s.mu.Unlock()
	return hash
}

// Request returns the last request submitted for a render id.
func (s *Server) Request(renderID string) (render.RenderRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.renders[renderID]
	if !ok {
		return render.RenderRequest{}, false
	}
	return st.req, true
}

// Matches returns the checkpoints received for a session.
func (s *Server) Matches(sessionID string) []render.MatchWindowData {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.sessions[sessionID]; ok {
		return append([]render.MatchWindowData(nil), ss.matches...)
	}
	return nil
}

// Images returns the number of uploaded screenshots.
func (s *Server) Images() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.images {
		if u.contentType == "image/png" {
			n++
		}
	}
	return n
}

// Upload returns what was stored at a results URL.
func (s *Server) Upload(location string) ([]byte, bool) {
	id := location[strings.LastIndex(location, "/")+1:]
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.images[id]
	return u.body, ok
}

func (s *Server) count(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		code := 0
		if len(s.failures) > 0 {
			code, s.failures = s.failures[0], s.failures[1:]
		}
		s.mu.Unlock()
		if code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apiKey") != APIKey {
			http.Error(w, "bad api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != AccessToken {
			http.Error(w, "bad token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRenderInfo(w http.ResponseWriter, r *http.Request) {
	s.count("renderinfo")
	writeJSON(w, http.StatusOK, render.RenderingInfo{
		ServiceURL:  s.URL + "/service",
		AccessToken: AccessToken,
		ResultsURL:  s.URL + "/results/__random__",
	})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	s.count("render")
	var reqs []render.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]render.RunningRender, len(reqs))
	for i, req := range reqs {
		id := req.RenderID
		if id == "" {
			id = uuid.NewString()
		}
		rr := render.RunningRender{RenderID: id, RenderStatus: render.StatusRendering}
		if _, ok := s.resources[req.DOM.Hash]; !ok {
			rr.NeedMoreDOM = true
		}
		for u, ho := range req.Resources {
			if _, ok := s.resources[ho.Hash]; !ok {
				rr.NeedMoreResources = append(rr.NeedMoreResources, u)
			}
		}
		if rr.NeedsMore() {
			rr.RenderStatus = render.StatusNeedMoreResources
		}
		if st, ok := s.renders[id]; ok {
			st.req = req
		} else {
			s.renders[id] = &renderState{req: req}
		}
		out[i] = rr
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRenderStatus(w http.ResponseWriter, r *http.Request) {
	s.count("render-status")
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*render.RenderStatusResult, len(ids))
	for i, id := range ids {
		st, ok := s.renders[id]
		if !ok {
			out[i] = &render.RenderStatusResult{RenderID: id, Status: render.StatusError, Error: "unknown render"}
			continue
		}
		st.polls++
		res := &render.RenderStatusResult{RenderID: id, Status: render.StatusRendering}
		switch msg, failed := s.failRenders[id]; {
		case st.polls <= s.PendingPolls:
		case failed:
			res.Status, res.Error = render.StatusError, msg
		default:
			res.Status = render.StatusRendered
			res.ImageLocation = s.URL + "/images/" + id
			res.DOMLocation = s.URL + "/doms/" + id
			res.UserAgent = "vgrid-fake/" + strconv.Itoa(st.polls)
		}
		out[i] = res
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCheckResource(w http.ResponseWriter, r *http.Request) {
	s.count("check-resource")
	if _, ok := s.Resource(chi.URLParam(r, "hash")); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePutResource(w http.ResponseWriter, r *http.Request) {
	s.count("put-resource")
	hash := chi.URLParam(r, "hash")
	if r.URL.Query().Get("render-id") == "" {
		http.Error(w, "missing render-id", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != hash {
		http.Error(w, "hash mismatch", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.resources[hash] = body
	s.contentTy[hash] = r.Header.Get("Content-Type")
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	s.count("start-session")
	var body struct {
		StartInfo render.SessionStartInfo `json:"startInfo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{start: body.StartInfo}
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, render.RunningSession{
		ID:        id,
		SessionID: id,
		BatchID:   body.StartInfo.Batch.ID,
		URL:       s.URL + "/app/sessions/" + id,
	})
}

func (s *Server) handleMatchWindow(w http.ResponseWriter, r *http.Request) {
	s.count("match-window")
	id := chi.URLParam(r, "id")
	var data render.MatchWindowData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	ss, ok := s.sessions[id]
	if ok {
		ss.matches = append(ss.matches, data)
	}
	n := 0
	if ok {
		n = len(ss.matches)
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, render.MatchResult{AsExpected: true, WindowID: n})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	s.count("stop-session")
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	ss, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	status := "Passed"
	if r.URL.Query().Get("aborted") == "true" {
		status = "Unresolved"
	}
	writeJSON(w, http.StatusOK, render.TestResults{
		Name:    ss.start.ScenarioIDOrName,
		Status:  status,
		IsNew:   true,
		URL:     s.URL + "/app/sessions/" + id,
		Steps:   len(ss.matches),
		Matches: len(ss.matches),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.count("upload")
	if r.Header.Get("X-Ms-Blob-Type") != "BlockBlob" {
		http.Error(w, "missing blob type", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.images[chi.URLParam(r, "id")] = upload{body: body, contentType: r.Header.Get("Content-Type")}
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}
