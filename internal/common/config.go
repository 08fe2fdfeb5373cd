package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production" - controls test URL validation
	Server      ServerConfig      `toml:"server"`
	Logging     LoggingConfig     `toml:"logging"`
	Storage     StorageConfig     `toml:"storage"`
	Engine      EngineConfig      `toml:"engine"`
	Pool        PoolConfig        `toml:"pool"`
	Sessions    SessionsConfig    `toml:"sessions"`
	Admission   AdmissionConfig   `toml:"admission"`
	Challenge   ChallengeConfig   `toml:"challenge"`
	Render      RenderConfig      `toml:"render"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05.000")
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish as events to clients ("debug", "info", "warn", "error")
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// EngineConfig controls the headless Chrome process shared by all contexts
type EngineConfig struct {
	ChromePath      string        `toml:"chrome_path"`       // Explicit Chrome/Chromium binary path (empty = auto-detect)
	Headless        bool          `toml:"headless"`          // Run Chrome headless
	NoSandbox       bool          `toml:"no_sandbox"`        // Disable Chrome sandbox (required in most containers)
	DisableGPU      bool          `toml:"disable_gpu"`       // Disable GPU acceleration
	WindowWidth     int           `toml:"window_width"`      // Browser window width in pixels
	WindowHeight    int           `toml:"window_height"`     // Browser window height in pixels
	UserAgent       string        `toml:"user_agent"`        // Default user agent for new contexts
	Stealth         bool          `toml:"stealth"`           // Inject anti-detection script into every new page
	Proxy           string        `toml:"proxy"`             // Proxy server URL (empty = direct)
	StartupTimeout  time.Duration `toml:"startup_timeout"`   // Max time to wait for the browser process to respond
	NavWaitPolicy   string        `toml:"nav_wait_policy"`   // "load" or "networkidle"
	NavIdleInterval time.Duration `toml:"nav_idle_interval"` // Quiet period that counts as network idle
}

// PoolConfig controls the pre-warmed browser context pool
type PoolConfig struct {
	Size           int           `toml:"size"`             // Fixed number of pooled contexts
	AcquireTimeout time.Duration `toml:"acquire_timeout"`  // Max wait for a free context before PoolTimeout
	IdleEvictAfter time.Duration `toml:"idle_evict_after"` // Recycle contexts idle longer than this
	EvictInterval  time.Duration `toml:"evict_interval"`   // How often the idle eviction pass runs
}

// SessionsConfig controls named sticky browser contexts
type SessionsConfig struct {
	MaxSessions   int           `toml:"max_sessions"`   // Capacity before LRU eviction
	TTL           time.Duration `toml:"ttl"`            // Sliding idle window before expiry
	SweepInterval time.Duration `toml:"sweep_interval"` // How often the expiry sweep runs
	Locale        string        `toml:"locale"`         // Locale override for session pages (empty = browser default)
	Timezone      string        `toml:"timezone"`       // Timezone override for session pages (empty = browser default)
}

// AdmissionConfig controls how many renders run concurrently
type AdmissionConfig struct {
	MaxConcurrent int           `toml:"max_concurrent"` // Render slots (counting semaphore size)
	QueueTimeout  time.Duration `toml:"queue_timeout"`  // Max wait in the admission queue before AdmissionTimeout
}

// ChallengeConfig controls anti-bot challenge detection and resolution
type ChallengeConfig struct {
	MaxRounds        int           `toml:"max_rounds"`         // Resolution rounds before giving up
	SettleWait       time.Duration `toml:"settle_wait"`        // Pause between probe and recheck within a round
	NavWaitTimeout   time.Duration `toml:"nav_wait_timeout"`   // Best-effort wait for challenge-triggered navigation
	MinContentLength int           `toml:"min_content_length"` // Minimum markup bytes for a cleared page to count as content
	MaxBodyProbe     int           `toml:"max_body_probe"`     // Max body text bytes inspected for challenge markers
	ClearanceCookies []string      `toml:"clearance_cookies"`  // Cookie names that prove a passed challenge
}

// RenderConfig controls individual render requests
type RenderConfig struct {
	RequestTimeout    time.Duration `toml:"request_timeout"`    // Whole-request deadline (admission + navigation + extraction)
	NavigationTimeout time.Duration `toml:"navigation_timeout"` // Per-navigation deadline
	DefaultFormat     string        `toml:"default_format"`     // "html", "markdown" or "text"
	OriginInterval    time.Duration `toml:"origin_interval"`    // Minimum delay between navigations to the same origin (0 = off)
}

// MaintenanceConfig controls the background housekeeping job
type MaintenanceConfig struct {
	Enabled         bool          `toml:"enabled"`          // Run scheduled maintenance
	Schedule        string        `toml:"schedule"`         // Cron schedule format
	ClearanceTTL    time.Duration `toml:"clearance_ttl"`    // Drop persisted clearance cookies older than this
	RecordRetention time.Duration `toml:"record_retention"` // Drop render records older than this
}

type WebSocketConfig struct {
	MinLevel          string            `toml:"min_level"`          // Minimum log level to broadcast ("debug", "info", "warn", "error")
	ExcludePatterns   []string          `toml:"exclude_patterns"`   // Log messages containing these substrings are not broadcast
	AllowedEvents     []string          `toml:"allowed_events"`     // Empty allows all event types
	ThrottleIntervals map[string]string `toml:"throttle_intervals"` // Per-event-type minimum broadcast interval
}

// NewDefaultConfig returns the built-in defaults. Files, environment
// variables and flags are layered on top in that order.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "",
		},
		Logging: LoggingConfig{
			Level:         "info",                     // Info level for production (debug|info|warn|error)
			Format:        "text",                     // Human-readable text format (text|json)
			Output:        []string{"stdout", "file"}, // Log to both console and file
			TimeFormat:    "15:04:05.000",
			MinEventLevel: "info", // Publish info and above as events to clients
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/revelo",
				ResetOnStartup: false,
			},
		},
		Engine: EngineConfig{
			ChromePath:      "", // Auto-detect via chromedp
			Headless:        true,
			NoSandbox:       false,
			DisableGPU:      true,
			WindowWidth:     1920,
			WindowHeight:    1080,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Stealth:         true,
			Proxy:           "",
			StartupTimeout:  30 * time.Second,
			NavWaitPolicy:   "load",
			NavIdleInterval: 500 * time.Millisecond,
		},
		Pool: PoolConfig{
			Size:           4,
			AcquireTimeout: 30 * time.Second,
			IdleEvictAfter: 10 * time.Minute,
			EvictInterval:  2 * time.Minute,
		},
		Sessions: SessionsConfig{
			MaxSessions:   32,
			TTL:           30 * time.Minute,
			SweepInterval: 1 * time.Minute,
		},
		Admission: AdmissionConfig{
			MaxConcurrent: 8,
			QueueTimeout:  45 * time.Second,
		},
		Challenge: ChallengeConfig{
			MaxRounds:        10,
			SettleWait:       2 * time.Second,
			NavWaitTimeout:   3 * time.Second,
			MinContentLength: 512,  // Cleared pages shorter than this are treated as extraction failures
			MaxBodyProbe:     4096, // Challenge markers appear near the top of interstitial pages
			ClearanceCookies: []string{"cf_clearance"},
		},
		Render: RenderConfig{
			RequestTimeout:    120 * time.Second,
			NavigationTimeout: 60 * time.Second,
			DefaultFormat:     "html",
			OriginInterval:    0, // Disabled unless configured
		},
		Maintenance: MaintenanceConfig{
			Enabled:         true,
			Schedule:        "*/10 * * * *", // Every 10 minutes
			ClearanceTTL:    24 * time.Hour,
			RecordRetention: 72 * time.Hour,
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info", // Default: info level and above
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
				"Publishing Event",
			},
			// Empty AllowedEvents allows all events
			AllowedEvents: []string{},
			// Throttle high-frequency events to prevent WebSocket flooding
			ThrottleIntervals: map[string]string{
				"pool_stats":      "1s",    // Max 1 pool snapshot per second
				"challenge_round": "500ms", // Max 2 challenge round events per second
			},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files. Priority system: CLI flags > Environment variables > Last config file > ... > First config file > Defaults
// Example: LoadFromFiles("base.toml", "override.toml") - override.toml settings take precedence over base.toml
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: REVELO_ENV, fallback: GO_ENV)
	if env := os.Getenv("REVELO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("REVELO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("REVELO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("REVELO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("REVELO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("REVELO_LOG_OUTPUT"); output != "" {
		// Split comma-separated output types
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if minEventLevel := os.Getenv("REVELO_LOG_MIN_EVENT_LEVEL"); minEventLevel != "" {
		config.Logging.MinEventLevel = minEventLevel
	}

	// Storage configuration
	if badgerPath := os.Getenv("REVELO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if resetOnStartup := os.Getenv("REVELO_BADGER_RESET_ON_STARTUP"); resetOnStartup != "" {
		if ros, err := strconv.ParseBool(resetOnStartup); err == nil {
			config.Storage.Badger.ResetOnStartup = ros
		}
	}

	// Engine configuration
	if chromePath := os.Getenv("REVELO_ENGINE_CHROME_PATH"); chromePath != "" {
		config.Engine.ChromePath = chromePath
	}
	if headless := os.Getenv("REVELO_ENGINE_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Engine.Headless = h
		}
	}
	if noSandbox := os.Getenv("REVELO_ENGINE_NO_SANDBOX"); noSandbox != "" {
		if ns, err := strconv.ParseBool(noSandbox); err == nil {
			config.Engine.NoSandbox = ns
		}
	}
	if userAgent := os.Getenv("REVELO_ENGINE_USER_AGENT"); userAgent != "" {
		config.Engine.UserAgent = userAgent
	}
	if stealth := os.Getenv("REVELO_ENGINE_STEALTH"); stealth != "" {
		if s, err := strconv.ParseBool(stealth); err == nil {
			config.Engine.Stealth = s
		}
	}
	if proxy := os.Getenv("REVELO_ENGINE_PROXY"); proxy != "" {
		config.Engine.Proxy = proxy
	}
	if navWaitPolicy := os.Getenv("REVELO_ENGINE_NAV_WAIT_POLICY"); navWaitPolicy != "" {
		config.Engine.NavWaitPolicy = navWaitPolicy
	}

	// Pool configuration
	if size := os.Getenv("REVELO_POOL_SIZE"); size != "" {
		if s, err := strconv.Atoi(size); err == nil {
			config.Pool.Size = s
		}
	}
	if acquireTimeout := os.Getenv("REVELO_POOL_ACQUIRE_TIMEOUT"); acquireTimeout != "" {
		if at, err := time.ParseDuration(acquireTimeout); err == nil {
			config.Pool.AcquireTimeout = at
		}
	}
	if idleEvictAfter := os.Getenv("REVELO_POOL_IDLE_EVICT_AFTER"); idleEvictAfter != "" {
		if iea, err := time.ParseDuration(idleEvictAfter); err == nil {
			config.Pool.IdleEvictAfter = iea
		}
	}
	if evictInterval := os.Getenv("REVELO_POOL_EVICT_INTERVAL"); evictInterval != "" {
		if ei, err := time.ParseDuration(evictInterval); err == nil {
			config.Pool.EvictInterval = ei
		}
	}

	// Sessions configuration
	if maxSessions := os.Getenv("REVELO_SESSIONS_MAX"); maxSessions != "" {
		if ms, err := strconv.Atoi(maxSessions); err == nil {
			config.Sessions.MaxSessions = ms
		}
	}
	if ttl := os.Getenv("REVELO_SESSIONS_TTL"); ttl != "" {
		if t, err := time.ParseDuration(ttl); err == nil {
			config.Sessions.TTL = t
		}
	}
	if sweepInterval := os.Getenv("REVELO_SESSIONS_SWEEP_INTERVAL"); sweepInterval != "" {
		if si, err := time.ParseDuration(sweepInterval); err == nil {
			config.Sessions.SweepInterval = si
		}
	}
	if locale := os.Getenv("REVELO_SESSIONS_LOCALE"); locale != "" {
		config.Sessions.Locale = locale
	}
	if timezone := os.Getenv("REVELO_SESSIONS_TIMEZONE"); timezone != "" {
		config.Sessions.Timezone = timezone
	}

	// Admission configuration
	if maxConcurrent := os.Getenv("REVELO_ADMISSION_MAX_CONCURRENT"); maxConcurrent != "" {
		if mc, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Admission.MaxConcurrent = mc
		}
	}
	if queueTimeout := os.Getenv("REVELO_ADMISSION_QUEUE_TIMEOUT"); queueTimeout != "" {
		if qt, err := time.ParseDuration(queueTimeout); err == nil {
			config.Admission.QueueTimeout = qt
		}
	}

	// Challenge configuration
	if maxRounds := os.Getenv("REVELO_CHALLENGE_MAX_ROUNDS"); maxRounds != "" {
		if mr, err := strconv.Atoi(maxRounds); err == nil {
			config.Challenge.MaxRounds = mr
		}
	}
	if settleWait := os.Getenv("REVELO_CHALLENGE_SETTLE_WAIT"); settleWait != "" {
		if sw, err := time.ParseDuration(settleWait); err == nil {
			config.Challenge.SettleWait = sw
		}
	}
	if navWaitTimeout := os.Getenv("REVELO_CHALLENGE_NAV_WAIT_TIMEOUT"); navWaitTimeout != "" {
		if nwt, err := time.ParseDuration(navWaitTimeout); err == nil {
			config.Challenge.NavWaitTimeout = nwt
		}
	}
	if minContentLength := os.Getenv("REVELO_CHALLENGE_MIN_CONTENT_LENGTH"); minContentLength != "" {
		if mcl, err := strconv.Atoi(minContentLength); err == nil {
			config.Challenge.MinContentLength = mcl
		}
	}

	// Render configuration
	if requestTimeout := os.Getenv("REVELO_RENDER_REQUEST_TIMEOUT"); requestTimeout != "" {
		if rt, err := time.ParseDuration(requestTimeout); err == nil {
			config.Render.RequestTimeout = rt
		}
	}
	if navigationTimeout := os.Getenv("REVELO_RENDER_NAVIGATION_TIMEOUT"); navigationTimeout != "" {
		if nt, err := time.ParseDuration(navigationTimeout); err == nil {
			config.Render.NavigationTimeout = nt
		}
	}
	if defaultFormat := os.Getenv("REVELO_RENDER_DEFAULT_FORMAT"); defaultFormat != "" {
		config.Render.DefaultFormat = defaultFormat
	}
	if originInterval := os.Getenv("REVELO_RENDER_ORIGIN_INTERVAL"); originInterval != "" {
		if oi, err := time.ParseDuration(originInterval); err == nil {
			config.Render.OriginInterval = oi
		}
	}

	// Maintenance configuration
	if enabled := os.Getenv("REVELO_MAINTENANCE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Maintenance.Enabled = e
		}
	}
	if schedule := os.Getenv("REVELO_MAINTENANCE_SCHEDULE"); schedule != "" {
		config.Maintenance.Schedule = schedule
	}

	// WebSocket configuration
	if minLevel := os.Getenv("REVELO_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
	if excludePatterns := os.Getenv("REVELO_WEBSOCKET_EXCLUDE_PATTERNS"); excludePatterns != "" {
		// Split comma-separated patterns
		patterns := []string{}
		for _, p := range splitString(excludePatterns, ",") {
			trimmed := trimSpace(p)
			if trimmed != "" {
				patterns = append(patterns, trimmed)
			}
		}
		if len(patterns) > 0 {
			config.WebSocket.ExcludePatterns = patterns
		}
	}
	if allowedEvents := os.Getenv("REVELO_WEBSOCKET_ALLOWED_EVENTS"); allowedEvents != "" {
		events := []string{}
		for _, e := range splitString(allowedEvents, ",") {
			trimmed := trimSpace(e)
			if trimmed != "" {
				events = append(events, trimmed)
			}
		}
		if len(events) > 0 {
			config.WebSocket.AllowedEvents = events
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Helper functions for string manipulation
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are allowed
// Test URLs are only allowed in development mode
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}
