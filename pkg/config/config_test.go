package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, time.Duration(0), cfg.ScrapeTimeout, "scrape waits indefinitely by default")
	assert.Equal(t, time.Duration(0), cfg.WriteTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.ScrapeIdleTime)
	assert.Equal(t, 2, cfg.ScrapeIdleInflight)
	assert.Equal(t, "accept", cfg.ScrapeDialogs)
	assert.True(t, cfg.ChromeNoSandbox)
	assert.Equal(t, DefaultUserAgent, cfg.UpstreamUA)
	assert.Empty(t, cfg.ProxyBaseURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PORT", "8080")
	t.Setenv("SCRAPE_TIMEOUT", "45")
	t.Setenv("UPSTREAM_TIMEOUT", "1500ms")
	t.Setenv("PROXY_BASE_URL", "https://proxy.example/")
	t.Setenv("GLOBAL_PROXY", "socks5://127.0.0.1:1080")
	t.Setenv("UTLS_DOMAINS", "a.example, b.example ,")
	t.Setenv("CHROME_NO_SANDBOX", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.ScrapeTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.UpstreamTimeout)
	assert.Equal(t, "https://proxy.example", cfg.ProxyBaseURL)
	assert.Equal(t, []string{"socks5://127.0.0.1:1080"}, cfg.GlobalProxies)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.UTLSDomains)
	assert.False(t, cfg.ChromeNoSandbox)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SCRAPE_DIALOGS=dismiss\nLOG_LEVEL=debug\n"), 0o600))

	t.Setenv("ENV_FILE", path)
	// Set so t.Setenv restores the environment after godotenv writes to it.
	t.Setenv("SCRAPE_DIALOGS", "")
	t.Setenv("LOG_LEVEL", "warn")
	os.Unsetenv("SCRAPE_DIALOGS")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dismiss", cfg.ScrapeDialogs)
	assert.Equal(t, "warn", cfg.LogLevel, "real environment wins over dotenv")
}

func TestLoad_MalformedDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=\"8080\n"), 0o600))
	t.Setenv("ENV_FILE", path)

	cfg, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.Nil(t, cfg)
}

func TestLoad_MissingDotEnvFileIsIgnored(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
}

func TestParseTransportRoutes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []TransportRoute
	}{
		{name: "empty", input: "", want: nil},
		{
			name:  "single route",
			input: "{URL=cdn.example.com, PROXY=socks5://p:1080}",
			want:  []TransportRoute{{URLPattern: "cdn.example.com", Proxy: "socks5://p:1080"}},
		},
		{
			name:  "multiple routes with flags",
			input: "{URL=a.com, DISABLE_SSL=true}, {URL=b.com, DIRECT=true}",
			want: []TransportRoute{
				{URLPattern: "a.com", DisableSSL: true},
				{URLPattern: "b.com", Direct: true},
			},
		},
		{name: "route without url is dropped", input: "{PROXY=http://p:8080}", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseTransportRoutes(tt.input))
		})
	}
}
