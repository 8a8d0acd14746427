package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

var (
	ErrNoSources   = errors.New("no sources configured")
	ErrInvalidMode = errors.New("invalid crawl mode")
)

// Selectors describe where a source keeps its listing items and article fields.
// Detail selectors are evaluated on the article page; empty ones are skipped.
type Selectors struct {
	Item         string   `yaml:"item"`
	Link         string   `yaml:"link"`
	LinkAttr     string   `yaml:"link_attr"`
	Title        string   `yaml:"title"`
	Summary      string   `yaml:"summary"`
	Image        string   `yaml:"image"`
	Time         string   `yaml:"time"`
	TimeAttr     string   `yaml:"time_attr"`
	DetailTitle  string   `yaml:"detail_title"`
	DetailAuthor string   `yaml:"detail_author"`
	DetailImage  string   `yaml:"detail_image"`
	DetailTime   string   `yaml:"detail_time"`
	DetailBody   string   `yaml:"detail_body"`
	BodyTags     []string `yaml:"body_tags"`
}

type SourceConfig struct {
	Name            string    `yaml:"name"`
	Collection      string    `yaml:"collection"`
	Category        string    `yaml:"category"`
	BaseURL         string    `yaml:"base_url"`
	ListingURL      string    `yaml:"listing_url"`
	FirstPageURL    string    `yaml:"first_page_url"`
	StartPage       *int      `yaml:"start_page"`
	Mode            string    `yaml:"mode"`
	MaxPages        int       `yaml:"max_pages"`
	SkipThreshold   int       `yaml:"skip_threshold"`
	Priority        int       `yaml:"priority"`
	Enabled         *bool     `yaml:"enabled"`
	CutoffDate      string    `yaml:"cutoff_date"`
	DateOrdered     bool      `yaml:"date_ordered"`
	RespectRobots   bool      `yaml:"respect_robots"`
	ListingOnly     bool      `yaml:"listing_only"`
	FollowPatterns  []string  `yaml:"follow_patterns"`
	ExcludePatterns []string  `yaml:"exclude_patterns"`
	Selectors       Selectors `yaml:"selectors"`
}

type DBConfig struct {
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		SpiderState   string `yaml:"spider_state"`
		SpiderHistory string `yaml:"spider_history"`
	} `yaml:"collections"`
}

type LogicConfig struct {
	Mode                 string   `yaml:"mode"`
	DelayMS              int      `yaml:"delay_ms"`
	TimeoutSec           int      `yaml:"timeout_sec"`
	MaxRetries           int      `yaml:"max_retries"`
	MaxConcurrentWorkers int      `yaml:"max_concurrent_workers"`
	SourceTimeoutSec     int      `yaml:"source_timeout_sec"`
	MaxPages             int      `yaml:"max_pages"`
	SkipThreshold        int      `yaml:"skip_threshold"`
	EnableSkipLogic      *bool    `yaml:"enable_skip_logic"`
	FullModeCeiling      int      `yaml:"full_mode_ceiling"`
	MinBodyLength        int      `yaml:"min_body_length"`
	MaxListingFailures   int      `yaml:"max_listing_failures"`
	UserAgent            string   `yaml:"user_agent"`
	Proxies              []string `yaml:"proxies"`
	EnabledSources       []string `yaml:"enabled_sources"`
	DisabledSources      []string `yaml:"disabled_sources"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	Development bool   `yaml:"development"`
}

type SpiderConfig struct {
	DB      DBConfig                `yaml:"db"`
	Logic   LogicConfig             `yaml:"logic"`
	Logging LoggingConfig           `yaml:"logging"`
	Sources map[string]SourceConfig `yaml:"sources"`
}

// LoadConfig reads the YAML file at path, applies .env and environment
// overrides, fills defaults and validates the result.
func LoadConfig(path string) (*SpiderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is LoadConfig without the file read.
func Parse(data []byte) (*SpiderConfig, error) {
	var cfg SpiderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// a missing .env is normal outside development
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *SpiderConfig) applyEnv() {
	if uri := os.Getenv("MONGO_URI"); uri != "" {
		c.DB.Connection = uri
	}
	if mode := os.Getenv("SPIDER_MODE"); mode != "" {
		c.Logic.Mode = mode
	}
}

func (c *SpiderConfig) applyDefaults() {
	if c.DB.Database == "" {
		c.DB.Database = "NEWSSCRAPERDATA"
	}
	if c.DB.Collections.SpiderState == "" {
		c.DB.Collections.SpiderState = "spider_state"
	}
	if c.DB.Collections.SpiderHistory == "" {
		c.DB.Collections.SpiderHistory = "spider_history"
	}

	l := &c.Logic
	if l.Mode == "" {
		l.Mode = ModeIncremental
	}
	l.Mode = strings.ToLower(l.Mode)
	if l.DelayMS == 0 {
		l.DelayMS = 1000
	}
	if l.TimeoutSec == 0 {
		l.TimeoutSec = 10
	}
	if l.MaxRetries == 0 {
		l.MaxRetries = 20
	}
	if l.MaxConcurrentWorkers == 0 {
		l.MaxConcurrentWorkers = 6
	}
	if l.SourceTimeoutSec == 0 {
		l.SourceTimeoutSec = 3600
	}
	if l.MaxPages == 0 {
		l.MaxPages = 5
	}
	if l.SkipThreshold == 0 {
		l.SkipThreshold = 10
	}
	if l.EnableSkipLogic == nil {
		enabled := true
		l.EnableSkipLogic = &enabled
	}
	if l.FullModeCeiling == 0 {
		l.FullModeCeiling = 5000
	}
	if l.MinBodyLength == 0 {
		l.MinBodyLength = 100
	}
	if l.MaxListingFailures == 0 {
		l.MaxListingFailures = 3
	}

	for key, src := range c.Sources {
		if src.Name == "" {
			src.Name = key
		}
		if src.Collection == "" {
			src.Collection = strings.ToUpper(key)
		}
		src.Mode = strings.ToLower(src.Mode)
		c.Sources[key] = src
	}
}

// Validate reports the first run-wide configuration error. Problems local
// to one source are left to SourceConfig.Validate so they fail only that
// source.
func (c *SpiderConfig) Validate() error {
	if c.DB.Connection == "" {
		return errors.New("db.connection is required (or set MONGO_URI)")
	}
	if !validMode(c.Logic.Mode) {
		return fmt.Errorf("logic.mode %q: %w", c.Logic.Mode, ErrInvalidMode)
	}
	if len(c.Sources) == 0 {
		return ErrNoSources
	}
	return nil
}

// Validate reports the first error in a single source's settings.
func (s SourceConfig) Validate() error {
	if s.Mode != "" && !validMode(s.Mode) {
		return fmt.Errorf("source %s: mode %q: %w", s.Name, s.Mode, ErrInvalidMode)
	}
	if s.ListingURL == "" {
		return fmt.Errorf("source %s: listing_url is required", s.Name)
	}
	if s.CutoffDate != "" {
		if _, err := time.Parse(time.DateOnly, s.CutoffDate); err != nil {
			return fmt.Errorf("source %s: cutoff_date: %w", s.Name, err)
		}
	}
	return nil
}

func validMode(mode string) bool {
	return mode == ModeIncremental || mode == ModeFull
}

// EnabledSources returns the sources selected by enabled/disabled lists,
// ordered by priority and then name.
func (c *SpiderConfig) EnabledSources() []SourceConfig {
	disabled := make(map[string]bool, len(c.Logic.DisabledSources))
	for _, name := range c.Logic.DisabledSources {
		disabled[name] = true
	}
	allow := make(map[string]bool, len(c.Logic.EnabledSources))
	for _, name := range c.Logic.EnabledSources {
		allow[name] = true
	}

	var out []SourceConfig
	for key, src := range c.Sources {
		if disabled[key] {
			continue
		}
		if len(allow) > 0 && !allow[key] {
			continue
		}
		if src.Enabled != nil && !*src.Enabled {
			continue
		}
		out = append(out, src)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// EffectiveMode is the source mode, falling back to the global one.
func (c *SpiderConfig) EffectiveMode(src SourceConfig) string {
	if src.Mode != "" {
		return src.Mode
	}
	return c.Logic.Mode
}

func (c *SpiderConfig) EffectiveMaxPages(src SourceConfig) int {
	if src.MaxPages > 0 {
		return src.MaxPages
	}
	return c.Logic.MaxPages
}

func (c *SpiderConfig) EffectiveSkipThreshold(src SourceConfig) int {
	if src.SkipThreshold > 0 {
		return src.SkipThreshold
	}
	return c.Logic.SkipThreshold
}

// StartIndex is the first page index to fetch; defaults to 1.
func (s SourceConfig) StartIndex() int {
	if s.StartPage == nil {
		return 1
	}
	return *s.StartPage
}

// PageURL builds the listing URL for a page index. Index -1 selects the
// unparameterised first page when the source has one.
func (s SourceConfig) PageURL(index int) string {
	if index < 0 && s.FirstPageURL != "" {
		return s.FirstPageURL
	}
	if !strings.Contains(s.ListingURL, "%d") {
		return s.ListingURL
	}
	return fmt.Sprintf(s.ListingURL, index)
}

// Cutoff parses CutoffDate; the zero time means no cutoff.
func (s SourceConfig) Cutoff() time.Time {
	if s.CutoffDate == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, s.CutoffDate)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func (l LogicConfig) Delay() time.Duration {
	return time.Duration(l.DelayMS) * time.Millisecond
}

func (l LogicConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

func (l LogicConfig) SourceTimeout() time.Duration {
	return time.Duration(l.SourceTimeoutSec) * time.Second
}

// OverrideMode forces mode on the run and on every source.
func (c *SpiderConfig) OverrideMode(mode string) error {
	mode = strings.ToLower(mode)
	if !validMode(mode) {
		return fmt.Errorf("mode %q: %w", mode, ErrInvalidMode)
	}
	c.Logic.Mode = mode
	for key, src := range c.Sources {
		src.Mode = mode
		c.Sources[key] = src
	}
	return nil
}

// OnlySources restricts the run to the named sources.
func (c *SpiderConfig) OnlySources(names []string) error {
	for _, name := range names {
		if _, ok := c.Sources[name]; !ok {
			return fmt.Errorf("unknown source %q", name)
		}
	}
	c.Logic.EnabledSources = names
	c.Logic.DisabledSources = nil
	return nil
}

// SkipLogic reports whether the consecutive-skip stop applies.
func (l LogicConfig) SkipLogic() bool {
	return l.EnableSkipLogic == nil || *l.EnableSkipLogic
}
