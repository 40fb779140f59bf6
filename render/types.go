package render

import (
	"github.com/hazyhaar/vgrid/geometry"
	"github.com/hazyhaar/vgrid/regions"
	"github.com/hazyhaar/vgrid/resource"
)

// Render statuses reported by the render service.
const (
	StatusRendering = "rendering"
	StatusRendered  = "rendered"
	StatusError     = "error"
)

// RenderingInfo locates the render service for an account.
type RenderingInfo struct {
	ServiceURL  string `json:"serviceUrl"`
	AccessToken string `json:"accessToken"`
	ResultsURL  string `json:"resultsUrl"`
}

// EmulationInfo selects a mobile device emulation.
type EmulationInfo struct {
	DeviceName        string  `json:"deviceName,omitempty"`
	ScreenOrientation string  `json:"screenOrientation,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	DeviceScaleFactor float64 `json:"deviceScaleFactor,omitempty"`
	Mobile            bool    `json:"mobile,omitempty"`
}

// RenderInfo describes the viewport and what part of the page to render.
type RenderInfo struct {
	Width         int              `json:"width"`
	Height        int              `json:"height"`
	SizeMode      string           `json:"sizeMode"`
	Selector      string           `json:"selector,omitempty"`
	Region        *geometry.Region `json:"region,omitempty"`
	EmulationInfo *EmulationInfo   `json:"emulationInfo,omitempty"`
}

// Size modes.
const (
	SizeFullPage = "full-page"
	SizeViewport = "viewport"
	SizeSelector = "selector"
	SizeRegion   = "region"
)

// Browser names a rendering browser.
type Browser struct {
	Name     string `json:"name"`
	Platform string `json:"platform,omitempty"`
}

// RenderRequest asks the render service to render one DOM in one browser.
// DOM and Resources are sent as hash descriptors; contents are uploaded
// separately when the service asks for them.
type RenderRequest struct {
	WebhookURL                string                         `json:"webhook"`
	URL                       string                         `json:"url"`
	DOM                       resource.HashObject            `json:"dom"`
	Resources                 map[string]resource.HashObject `json:"resources"`
	RenderInfo                *RenderInfo                    `json:"renderInfo,omitempty"`
	Browser                   *Browser                       `json:"browser,omitempty"`
	RenderID                  string                         `json:"renderId,omitempty"`
	AgentID                   string                         `json:"agentId,omitempty"`
	ScriptHooks               map[string]string              `json:"scriptHooks,omitempty"`
	SelectorsToFindRegionsFor []string                       `json:"selectorsToFindRegionsFor,omitempty"`
	SendDOM                   *bool                          `json:"sendDom,omitempty"`
}

// RunningRender is the service's answer to a render request.
type RunningRender struct {
	RenderID          string   `json:"renderId"`
	JobID             string   `json:"jobId,omitempty"`
	RenderStatus      string   `json:"renderStatus"`
	NeedMoreResources []string `json:"needMoreResources,omitempty"`
	NeedMoreDOM       bool     `json:"needMoreDom,omitempty"`
}

// NeedsMore reports whether the service is missing content to render.
func (r RunningRender) NeedsMore() bool {
	return r.NeedMoreDOM || len(r.NeedMoreResources) > 0
}

// RenderStatusResult is the state of one render.
type RenderStatusResult struct {
	RenderID        string                  `json:"renderId"`
	Status          string                  `json:"status"`
	ImageLocation   string                  `json:"imageLocation,omitempty"`
	DOMLocation     string                  `json:"domLocation,omitempty"`
	Error           string                  `json:"error,omitempty"`
	OS              string                  `json:"os,omitempty"`
	UserAgent       string                  `json:"userAgent,omitempty"`
	DeviceSize      *geometry.RectangleSize `json:"deviceSize,omitempty"`
	SelectorRegions [][]geometry.Region     `json:"selectorRegions,omitempty"`
}

// BatchInfo groups sessions in the dashboard.
type BatchInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
}

// AppEnvironment describes where the screenshot was taken.
type AppEnvironment struct {
	OS          string                  `json:"os,omitempty"`
	HostingApp  string                  `json:"hostingApp,omitempty"`
	DisplaySize *geometry.RectangleSize `json:"displaySize,omitempty"`
	DeviceInfo  string                  `json:"deviceInfo,omitempty"`
}

// SessionStartInfo opens a comparison session.
type SessionStartInfo struct {
	AgentID              string              `json:"agentId"`
	AppIDOrName          string              `json:"appIdOrName"`
	ScenarioIDOrName     string              `json:"scenarioIdOrName"`
	Batch                BatchInfo           `json:"batchInfo"`
	Environment          AppEnvironment      `json:"environment"`
	BranchName           string              `json:"branchName,omitempty"`
	ParentBranchName     string              `json:"parentBranchName,omitempty"`
	DefaultMatchSettings *ImageMatchSettings `json:"defaultMatchSettings,omitempty"`
}

// RunningSession is an open comparison session.
type RunningSession struct {
	ID           string `json:"id"`
	SessionID    string `json:"sessionId"`
	BatchID      string `json:"batchId"`
	BaselineID   string `json:"baselineId"`
	URL          string `json:"url"`
	IsNewSession bool   `json:"-"`
}

// ImageMatchSettings carries the regions that shape a comparison.
type ImageMatchSettings struct {
	MatchLevel    string                        `json:"matchLevel,omitempty"`
	Ignore        []geometry.Region             `json:"ignore,omitempty"`
	Layout        []geometry.Region             `json:"layout,omitempty"`
	Strict        []geometry.Region             `json:"strict,omitempty"`
	Content       []geometry.Region             `json:"content,omitempty"`
	Floating      []regions.FloatingRegion      `json:"floating,omitempty"`
	Accessibility []regions.AccessibilityRegion `json:"accessibility,omitempty"`
}

// AppOutput is the captured image and its context.
type AppOutput struct {
	Title         string             `json:"title"`
	ScreenshotURL string             `json:"screenshotUrl,omitempty"`
	DOMURL        string             `json:"domUrl,omitempty"`
	Location      *geometry.Location `json:"location,omitempty"`
}

// MatchWindowData is one checkpoint of a session.
type MatchWindowData struct {
	Tag            string       `json:"tag"`
	AppOutput      AppOutput    `json:"appOutput"`
	IgnoreMismatch bool         `json:"ignoreMismatch"`
	Options        MatchOptions `json:"options"`
}

// MatchOptions are the per-checkpoint comparison options.
type MatchOptions struct {
	Name               string             `json:"name"`
	ImageMatchSettings ImageMatchSettings `json:"imageMatchSettings"`
}

// MatchResult is the outcome of one checkpoint.
type MatchResult struct {
	AsExpected bool `json:"asExpected"`
	WindowID   int  `json:"windowId,omitempty"`
}

// TestResults summarizes a closed session.
type TestResults struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	IsNew      bool   `json:"isNew"`
	URL        string `json:"url"`
	Steps      int    `json:"steps"`
	Matches    int    `json:"matches"`
	Mismatches int    `json:"mismatches"`
	Missing    int    `json:"missing"`
}

// Passed reports whether every step matched.
func (r *TestResults) Passed() bool {
	return r.Mismatches == 0 && r.Missing == 0
}

// MatchSettings converts resolved regions into comparison settings.
func MatchSettings(level string, r regions.Resolved) ImageMatchSettings {
	return ImageMatchSettings{
		MatchLevel:    level,
		Ignore:        r.Ignore,
		Layout:        r.Layout,
		Strict:        r.Strict,
		Content:       r.Content,
		Floating:      r.Floating,
		Accessibility: r.Accessibility,
	}
}
