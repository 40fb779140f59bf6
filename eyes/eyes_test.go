package eyes

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/vgrid/capture"
	"github.com/hazyhaar/vgrid/config"
	"github.com/hazyhaar/vgrid/domcapture"
	"github.com/hazyhaar/vgrid/domsnapshot"
	"github.com/hazyhaar/vgrid/geometry"
	"github.com/hazyhaar/vgrid/idgen"
	"github.com/hazyhaar/vgrid/regions"
	"github.com/hazyhaar/vgrid/render"
	"github.com/hazyhaar/vgrid/render/rendertest"
	"github.com/hazyhaar/vgrid/report"
	"github.com/hazyhaar/vgrid/resource"
	"github.com/hazyhaar/vgrid/store"
)

// page is a tall striped document behind a scrolling viewport.
type page struct {
	src      *image.NRGBA
	viewport geometry.RectangleSize
	scroll   geometry.Location
}

func newPage(w, h int, viewport geometry.RectangleSize) *page {
	src := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		c := color.NRGBA{R: uint8(y % 256), G: uint8(y / 256), B: 9, A: 255}
		for x := 0; x < w; x++ {
			src.SetNRGBA(x, y, c)
		}
	}
	return &page{src: src, viewport: viewport}
}

func (p *page) Image(context.Context) (*capture.Image, error) {
	return capture.FromImage(p.src).Crop(geometry.RegionAt(p.scroll, p.viewport)), nil
}

func (p *page) CurrentPosition(context.Context) (geometry.Location, error) { return p.scroll, nil }

func (p *page) SetPosition(_ context.Context, loc geometry.Location) error {
	maxY := max(p.src.Rect.Dy()-p.viewport.Height, 0)
	p.scroll = geometry.Location{Y: min(max(loc.Y, 0), maxY)}
	return nil
}

func (p *page) EntireSize(context.Context) (geometry.RectangleSize, error) {
	return geometry.RectangleSize{Width: p.src.Rect.Dx(), Height: p.src.Rect.Dy()}, nil
}

func (p *page) State(context.Context) (capture.State, error) { return p.scroll, nil }

func (p *page) RestoreState(_ context.Context, s capture.State) error {
	p.scroll = s.(geometry.Location)
	return nil
}

// script answers the snapshot and capture scripts the runner evaluates.
type script struct {
	frame   string
	capture string
}

func (s *script) EvalString(_ context.Context, js string, args ...any) (string, error) {
	switch js {
	case domcapture.Script:
		return s.capture, nil
	case domsnapshot.Script:
		if args[0] == "delete" {
			return "", nil
		}
		return `{"status":"SUCCESS","value":` + s.frame + `}`, nil
	}
	return "", errors.New("unexpected script")
}

type memArtifacts struct {
	mu          sync.Mutex
	screenshots map[string][]byte
	doms        map[string]*resource.Resource
}

func (a *memArtifacts) StoreScreenshot(_ context.Context, id string, png []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.screenshots == nil {
		a.screenshots = make(map[string][]byte)
	}
	a.screenshots[id] = png
	return "captures/" + id + "/screenshot.png", nil
}

func (a *memArtifacts) StoreDOM(_ context.Context, id string, dom *resource.Resource) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.doms == nil {
		a.doms = make(map[string]*resource.Resource)
	}
	a.doms[id] = dom
	return "captures/" + id + "/dom.json", nil
}

type memMetrics struct {
	mu     sync.Mutex
	points map[string][]float64
}

func (m *memMetrics) Record(name string, value float64, _ string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.points == nil {
		m.points = make(map[string][]float64)
	}
	m.points[name] = append(m.points[name], value)
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:    "shop",
		AgentID:    "vgrid/test",
		MatchLevel: "Strict",
		Batch:      config.BatchConfig{ID: "batch-1", Name: "nightly"},
		Stitch:     config.StitchConfig{Overlap: 50, WaitBeforeScreenshots: time.Microsecond},
		Browsers: []config.RenderBrowser{
			{Name: "chrome", Width: 800, Height: 600, SizeMode: render.SizeFullPage},
			{Name: "firefox", DeviceName: "iPhone X", SizeMode: render.SizeViewport},
		},
		Render:   config.RenderConfig{UploadConcurrency: 4, PollInterval: time.Millisecond, Timeout: 5 * time.Second},
		Snapshot: config.SnapshotConfig{Interval: time.Millisecond, Timeout: 5 * time.Second},
	}
}

func testClient(t *testing.T, srv *rendertest.Server) *render.Client {
	t.Helper()
	c, err := render.NewClient(render.Config{ServerURL: srv.URL, APIKey: rendertest.APIKey, Backoff: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(testConfig(), "t", Deps{}); err == nil {
		t.Fatal("runner without client accepted")
	}
	if _, err := New(nil, "t", Deps{}); err == nil {
		t.Fatal("nil config accepted")
	}
}

func TestCheckWindow(t *testing.T) {
	srv := rendertest.NewServer(t)
	artifacts := &memArtifacts{}
	var reported []report.CheckResult
	sink := &report.Callback{OnCheck: func(_ context.Context, res report.CheckResult) error {
		reported = append(reported, res)
		return nil
	}}
	r, err := New(testConfig(), "home page", Deps{Client: testClient(t, srv), Artifacts: artifacts, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	viewport := geometry.RectangleSize{Width: 800, Height: 600}
	p := newPage(800, 3000, viewport)
	dom := &script{capture: `{}` + "\n-----\n-----\n" + `{"tagName":"HTML","css":"a{}"}`}
	target := Target{
		Image:    p,
		Origin:   p,
		Position: p,
		Scale:    capture.FixedScaleProviderFactory{Ratio: 1},
		Regions: []regions.Target{
			{Kind: regions.Ignore, Source: regions.ByRectangle{Region: geometry.NewRegion(0, 0, 800, 80)}},
		},
		DOM:      dom,
		Title:    "Home",
		Viewport: viewport,
	}

	res, err := r.CheckWindow(ctx, target, CheckSettings{Tag: "home"})
	if err != nil {
		t.Fatalf("CheckWindow: %v", err)
	}
	if res.Width != 800 || res.Height != 3000 {
		t.Errorf("stitched size = %dx%d, want 800x3000", res.Width, res.Height)
	}
	if !res.AsExpected || res.SessionID == "" {
		t.Errorf("result = %+v", res)
	}
	if p.scroll != (geometry.Location{}) {
		t.Errorf("scroll not restored: %v", p.scroll)
	}

	png, ok := srv.Upload(res.ScreenshotURL)
	if !ok || srv.Images() != 1 {
		t.Fatalf("screenshot not uploaded")
	}
	img, err := capture.DecodePNG(strings.NewReader(string(png)))
	if err != nil || img.Height() != 3000 {
		t.Fatalf("uploaded image: %v", err)
	}
	if string(artifacts.screenshots[res.CaptureID]) != string(png) || res.ArtifactKey == "" {
		t.Error("screenshot artifact not stored")
	}

	matches := srv.Matches(res.SessionID)
	if len(matches) != 1 {
		t.Fatalf("matches = %d", len(matches))
	}
	m := matches[0]
	if m.Tag != "home" || m.AppOutput.ScreenshotURL != res.ScreenshotURL || m.AppOutput.Title != "Home" {
		t.Errorf("match data = %+v", m)
	}
	if ig := m.Options.ImageMatchSettings.Ignore; len(ig) != 1 || ig[0].Height != 80 {
		t.Errorf("ignore regions = %+v", ig)
	}
	if m.Options.ImageMatchSettings.MatchLevel != "Strict" {
		t.Errorf("match level = %q", m.Options.ImageMatchSettings.MatchLevel)
	}
	// WHAT: The captured DOM goes up next to the screenshot.
	domJSON, ok := srv.Upload(m.AppOutput.DOMURL)
	if !ok || !strings.Contains(string(domJSON), `"tagName":"HTML"`) {
		t.Errorf("dom upload = %s", domJSON)
	}

	if len(reported) != 1 || reported[0].CaptureID != res.CaptureID {
		t.Errorf("reported = %+v", reported)
	}

	// WHAT: A second checkpoint reuses the session.
	if _, err := r.CheckWindow(ctx, Target{Image: p, Origin: p, Scale: capture.FixedScaleProviderFactory{Ratio: 1}}, CheckSettings{Tag: "again"}); err != nil {
		t.Fatalf("second CheckWindow: %v", err)
	}
	if n := srv.Calls("start-session"); n != 1 {
		t.Errorf("sessions started = %d, want 1", n)
	}

	tr, err := r.Close(ctx, false)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.Steps != 2 || tr.Name != "home page" {
		t.Errorf("test results = %+v", tr)
	}
	if tr, err := r.Close(ctx, false); tr != nil || err != nil {
		t.Errorf("second Close = %+v, %v", tr, err)
	}
}

func TestCheckWindow_MissingProvider(t *testing.T) {
	srv := rendertest.NewServer(t)
	r, _ := New(testConfig(), "t", Deps{Client: testClient(t, srv)})
	if _, err := r.CheckWindow(context.Background(), Target{}, CheckSettings{Tag: "x"}); err == nil {
		t.Fatal("missing providers accepted")
	}
	if srv.Calls("start-session") != 0 {
		t.Error("session started for a failed capture")
	}
}

func site(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/style.css":
			w.Header().Set("Content-Type", "text/css")
			w.Write([]byte(`body{background:url(bg.png)}`))
		case "/bg.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("bg"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func frameJSON(t *testing.T, base string) string {
	t.Helper()
	b, err := json.Marshal(domsnapshot.Frame{
		URL:          base + "/",
		CDT:          json.RawMessage(`[{"nodeType":9}]`),
		ResourceURLs: []string{base + "/style.css", "data:image/png;base64,AAAA"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestRenderWindow(t *testing.T) {
	srv := rendertest.NewServer(t)
	web := site(t)
	cache := resource.NewCache()
	fetcher := resource.NewFetcher(resource.WithBackoff(time.Millisecond))
	resolver, err := resource.NewResolver(cache, fetcher)
	if err != nil {
		t.Fatal(err)
	}
	artifacts := &memArtifacts{}
	metrics := &memMetrics{}
	var reported []report.RenderResult
	sink := &report.Callback{OnRender: func(_ context.Context, res report.RenderResult) error {
		reported = append(reported, res)
		return nil
	}}

	r, err := New(testConfig(), "grid", Deps{
		Client:    testClient(t, srv),
		Resolver:  resolver,
		Fetcher:   fetcher,
		Artifacts: artifacts,
		Sink:      sink,
		IDs:       idgen.Sequence("cap-"),
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.RenderWindow(context.Background(), &script{frame: frameJSON(t, web.URL)}, RenderSettings{
		Tag:     "home",
		Regions: []regions.Target{{Kind: regions.Layout, Source: regions.BySelector{Selector: ".ad"}}},
	})
	if err != nil {
		t.Fatalf("RenderWindow: %v", err)
	}

	if res.Resources != 2 || res.URL != web.URL+"/" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Renders) != 2 || res.Renders[0].Browser != "chrome" || res.Renders[1].Browser != "firefox" {
		t.Fatalf("renders = %+v", res.Renders)
	}
	for _, o := range res.Renders {
		if o.Status != render.StatusRendered || o.ImageLocation == "" {
			t.Errorf("render %s = %+v", o.Browser, o)
		}
	}
	if res.Failed() {
		t.Error("result reported as failed")
	}

	// WHAT: The service asked for everything once, then rendered.
	if n := srv.Calls("render"); n != 2 {
		t.Errorf("render calls = %d, want 2", n)
	}
	req, ok := srv.Request(res.Renders[1].RenderID)
	if !ok {
		t.Fatal("render request not recorded")
	}
	if req.RenderInfo.EmulationInfo == nil || req.RenderInfo.EmulationInfo.DeviceName != "iPhone X" {
		t.Errorf("render info = %+v", req.RenderInfo)
	}
	if len(req.SelectorsToFindRegionsFor) != 1 || req.SelectorsToFindRegionsFor[0] != ".ad" {
		t.Errorf("selectors = %v", req.SelectorsToFindRegionsFor)
	}
	if _, ok := srv.Resource(req.Resources[web.URL+"/bg.png"].Hash); !ok {
		t.Error("nested resource not uploaded")
	}

	if e, ok := cache.Get(web.URL + "/style.css"); !ok || len(e.Dependencies) != 1 {
		t.Errorf("css cache entry = %+v", e)
	}
	if _, ok := artifacts.doms["cap-1"]; !ok || len(artifacts.doms) != 1 {
		t.Errorf("dom artifacts = %v", artifacts.doms)
	}
	if p := metrics.points[store.MetricResourcesResolved]; len(p) != 1 || p[0] != 2 {
		t.Errorf("resources metric = %v", p)
	}
	if p := metrics.points[store.MetricRendersFailed]; len(p) != 1 || p[0] != 0 {
		t.Errorf("failed renders metric = %v", p)
	}
	if len(reported) != 1 || len(reported[0].Renders) != 2 {
		t.Errorf("reported = %+v", reported)
	}
}

func TestRenderWindow_NeedsBrowsers(t *testing.T) {
	srv := rendertest.NewServer(t)
	cfg := testConfig()
	cfg.Browsers = nil
	resolver, _ := resource.NewResolver(resource.NewCache(), resource.NewFetcher())
	r, _ := New(cfg, "grid", Deps{Client: testClient(t, srv), Resolver: resolver})

	if _, err := r.RenderWindow(context.Background(), &script{}, RenderSettings{}); !errors.Is(err, ErrNoBrowsers) {
		t.Fatalf("err = %v, want ErrNoBrowsers", err)
	}
}
