// Package config loads vgrid configuration from a YAML file, fills in
// defaults and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/vgrid/capture"
	"github.com/hazyhaar/vgrid/safe"
	"github.com/hazyhaar/vgrid/store"
)

// PageSchemes are the URL schemes a page may use.
var PageSchemes = []string{"http", "https", "file"}

// Environment variables that override the file.
const (
	EnvAPIKey    = "VGRID_API_KEY"
	EnvServerURL = "VGRID_SERVER_URL"
	EnvBatchID   = "VGRID_BATCH_ID"
	EnvBatchName = "VGRID_BATCH_NAME"
)

// DefaultServerURL is used when neither the file nor the environment name
// a server.
const DefaultServerURL = "https://eyesapi.applitools.com"

// Config is the top-level configuration.
type Config struct {
	ServerURL  string `yaml:"server_url"`
	APIKey     string `yaml:"api_key"`
	AppName    string `yaml:"app_name"`
	AgentID    string `yaml:"agent_id"`
	BranchName string `yaml:"branch_name"`
	MatchLevel string `yaml:"match_level"`

	Batch     BatchConfig     `yaml:"batch"`
	Browser   BrowserConfig   `yaml:"browser"`
	Stitch    StitchConfig    `yaml:"stitch"`
	Browsers  []RenderBrowser `yaml:"browsers"`
	Resources ResourceConfig  `yaml:"resources"`
	Render    RenderConfig    `yaml:"render"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Store     StoreConfig     `yaml:"store"`
	Sinks     []SinkConfig    `yaml:"sinks"`
	Pages     []PageConfig    `yaml:"pages"`
}

// BatchConfig groups the sessions of one run.
type BatchConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BrowserConfig controls the local Chrome used for captures.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	Headful         bool          `yaml:"headful"`
	NoSandbox       bool          `yaml:"no_sandbox"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

// StitchConfig controls full-page stitching.
type StitchConfig struct {
	Mode                  string        `yaml:"mode"` // scroll | css
	Overlap               int           `yaml:"overlap"`
	DoubleOverlap         bool          `yaml:"double_overlap"`
	WaitBeforeScreenshots time.Duration `yaml:"wait_before_screenshots"`
	DebugDir              string        `yaml:"debug_dir"`
}

// RenderBrowser is one browser the render service renders each DOM in.
type RenderBrowser struct {
	Name       string `yaml:"name"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	SizeMode   string `yaml:"size_mode"`
	DeviceName string `yaml:"device_name"`
}

// ResourceConfig controls resource fetching.
type ResourceConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Retries     int           `yaml:"retries"`
	Backoff     time.Duration `yaml:"backoff"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxSize     int64         `yaml:"max_size"`
	UserAgent   string        `yaml:"user_agent"`
}

// RenderConfig controls the render service client.
type RenderConfig struct {
	Retries           int           `yaml:"retries"`
	Backoff           time.Duration `yaml:"backoff"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	Timeout           time.Duration `yaml:"timeout"`
}

// SnapshotConfig controls DOM snapshot polling.
type SnapshotConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// StoreConfig locates persistent state. Both parts are optional.
type StoreConfig struct {
	DBPath    string                `yaml:"db_path"`
	// UploadTTL bounds how long a recorded upload is trusted to still be
	// on the render service. Default: 72h.
	UploadTTL time.Duration         `yaml:"upload_ttl"`
	Artifacts *store.ArtifactConfig `yaml:"artifacts"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// PageConfig is one page to check.
type PageConfig struct {
	URL  string `yaml:"url"`
	Tag  string `yaml:"tag"`
	Grid bool   `yaml:"grid"` // render through the service instead of stitching locally
}

// Load reads a YAML configuration file. An empty path starts from an
// empty configuration. Defaults and environment overrides are applied and
// the result is validated.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
	if v := getenv(EnvBatchID); v != "" {
		c.Batch.ID = v
	}
	if v := getenv(EnvBatchName); v != "" {
		c.Batch.Name = v
	}
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.AgentID == "" {
		c.AgentID = "vgrid/1.0"
	}
	if c.MatchLevel == "" {
		c.MatchLevel = "Strict"
	}
	if c.Browser.Width <= 0 {
		c.Browser.Width = 1024
	}
	if c.Browser.Height <= 0 {
		c.Browser.Height = 768
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Stitch.Mode == "" {
		c.Stitch.Mode = "scroll"
	}
	if c.Stitch.WaitBeforeScreenshots <= 0 {
		c.Stitch.WaitBeforeScreenshots = 100 * time.Millisecond
	}
	for i := range c.Browsers {
		if c.Browsers[i].SizeMode == "" {
			c.Browsers[i].SizeMode = "full-page"
		}
	}
	if c.Resources.Concurrency <= 0 {
		c.Resources.Concurrency = 10
	}
	if c.Resources.Retries <= 0 {
		c.Resources.Retries = 5
	}
	if c.Resources.Backoff <= 0 {
		c.Resources.Backoff = 500 * time.Millisecond
	}
	if c.Resources.Timeout <= 0 {
		c.Resources.Timeout = 120 * time.Second
	}
	if c.Render.Retries <= 0 {
		c.Render.Retries = 3
	}
	if c.Render.Backoff <= 0 {
		c.Render.Backoff = 500 * time.Millisecond
	}
	if c.Render.UploadConcurrency <= 0 {
		c.Render.UploadConcurrency = 10
	}
	if c.Render.PollInterval <= 0 {
		c.Render.PollInterval = 500 * time.Millisecond
	}
	if c.Render.Timeout <= 0 {
		c.Render.Timeout = 10 * time.Minute
	}
	if c.Snapshot.Interval <= 0 {
		c.Snapshot.Interval = 200 * time.Millisecond
	}
	if c.Snapshot.Timeout <= 0 {
		c.Snapshot.Timeout = 5 * time.Minute
	}
	if c.Store.UploadTTL <= 0 {
		c.Store.UploadTTL = 72 * time.Hour
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Pages {
		if c.Pages[i].Tag == "" {
			c.Pages[i].Tag = c.Pages[i].URL
		}
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if err := safe.ValidateURL(c.ServerURL); err != nil {
		errs = append(errs, fmt.Errorf("server_url: %w", err))
	}
	if _, err := capture.ParseStitchMode(c.Stitch.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Stitch.Overlap < 0 {
		errs = append(errs, fmt.Errorf("stitch.overlap: negative value %d", c.Stitch.Overlap))
	}
	for i, b := range c.Browsers {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("browsers[%d]: name is required", i))
		}
		if b.DeviceName == "" && (b.Width <= 0 || b.Height <= 0) {
			errs = append(errs, fmt.Errorf("browsers[%d]: size %dx%d", i, b.Width, b.Height))
		}
	}
	for i, s := range c.Sinks {
		switch strings.ToLower(s.Type) {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("sinks[%d]: webhook url is required", i))
			} else if err := safe.ValidateURL(s.URL); err != nil {
				errs = append(errs, fmt.Errorf("sinks[%d]: %w", i, err))
			}
		default:
			errs = append(errs, fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	for i, p := range c.Pages {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("pages[%d]: url is required", i))
		} else if err := safe.ValidateURL(p.URL, PageSchemes...); err != nil {
			errs = append(errs, fmt.Errorf("pages[%d]: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
