// Package config handles application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	IndexFile    string

	// Proxy settings
	ProxyBaseURL     string
	UpstreamTimeout  time.Duration
	UpstreamUA       string
	MaxPlaylistBytes int64
	GlobalProxies    []string
	TransportRoutes  []TransportRoute
	UTLSDomains      []string

	// Scrape settings. A zero ScrapeTimeout waits for network idle forever.
	ScrapeTimeout       time.Duration
	ScrapeIdleTime      time.Duration
	ScrapeIdleInflight  int
	ScrapeMaxConcurrent int
	ScrapeDialogs       string
	ScrapeRateLimit     int
	ScrapeRateWindow    time.Duration
	ChromePath          string
	ChromeNoSandbox     bool

	// Observability
	LogLevel       string
	LogJSON        bool
	MetricsEnabled bool
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// DefaultUserAgent is sent upstream when the client did not pass one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Load reads configuration from environment variables with sensible defaults.
// Variables from a dotenv file (ENV_FILE, default ".env") are applied first
// and never override variables already present in the environment. A
// missing dotenv file is ignored; an unreadable or malformed one is an error.
func Load() (*Config, error) {
	envFile := getEnvString("ENV_FILE", ".env")
	if err := loadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		Port:                getEnvInt("PORT", 3000),
		ReadTimeout:         getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        getEnvDuration("WRITE_TIMEOUT", 0),
		IdleTimeout:         getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		IndexFile:           os.Getenv("INDEX_FILE"),
		ProxyBaseURL:        strings.TrimRight(os.Getenv("PROXY_BASE_URL"), "/"),
		UpstreamTimeout:     getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		UpstreamUA:          getEnvString("UPSTREAM_USER_AGENT", DefaultUserAgent),
		MaxPlaylistBytes:    int64(getEnvInt("MAX_PLAYLIST_BYTES", 16<<20)),
		GlobalProxies:       getEnvStringSlice("GLOBAL_PROXIES", nil),
		UTLSDomains:         getEnvStringSlice("UTLS_DOMAINS", nil),
		ScrapeTimeout:       getEnvDuration("SCRAPE_TIMEOUT", 0),
		ScrapeIdleTime:      getEnvDuration("SCRAPE_IDLE_TIME", 500*time.Millisecond),
		ScrapeIdleInflight:  getEnvInt("SCRAPE_IDLE_INFLIGHT", 2),
		ScrapeMaxConcurrent: getEnvInt("SCRAPE_MAX_CONCURRENT", 2),
		ScrapeDialogs:       strings.ToLower(getEnvString("SCRAPE_DIALOGS", "accept")),
		ScrapeRateLimit:     getEnvInt("SCRAPE_RATE_LIMIT", 30),
		ScrapeRateWindow:    getEnvDuration("SCRAPE_RATE_WINDOW", time.Minute),
		ChromePath:          os.Getenv("CHROME_PATH"),
		ChromeNoSandbox:     getEnvBool("CHROME_NO_SANDBOX", true),
		LogLevel:            getEnvString("LOG_LEVEL", "info"),
		LogJSON:             getEnvBool("LOG_JSON", false),
		MetricsEnabled:      getEnvBool("METRICS_ENABLED", true),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	return cfg, nil
}

// loadEnvFile applies a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	for _, part := range strings.Split(s, "}, {") {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			key, value, ok := strings.Cut(field, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)

			switch strings.ToUpper(strings.TrimSpace(key)) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.EqualFold(value, "true")
			case "DIRECT":
				route.Direct = strings.EqualFold(value, "true")
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Bare integers are seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultVal
}
