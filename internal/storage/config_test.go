package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("UPLOAD_TYPE", " FAST ")
	t.Setenv("UPLOAD_SERVER_URL", "http://files.example.com/")
	t.Setenv("UPLOAD_BUCKET", "group1")
	t.Setenv("UPLOAD_PREFIX", "/docs/")
	t.Setenv("UPLOAD_KEY_SCHEME", "")

	cfg := ConfigFromEnv()

	assert.Equal(t, TypeFastDFS, cfg.Type)
	assert.Equal(t, "http://files.example.com", cfg.ServerURL)
	assert.Equal(t, "docs", cfg.Prefix)
	assert.Equal(t, SchemeRandom, cfg.KeyScheme)
	assert.NoError(t, cfg.Validate())
}

func TestLocalDefaults(t *testing.T) {
	cfg := Config{Type: "local", ServerURL: "http://h", RootPath: "/data"}.normalize()

	assert.Equal(t, DefaultLocalSegment, cfg.Bucket)
	assert.Equal(t, SchemeDate, cfg.KeyScheme)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"upload_type": "minio",
		"server_url": "http://minio:9000",
		"access_key": "ak",
		"secret_key": "sk",
		"bucket": "files",
		"key_scheme": "time",
		"key_timezone": "UTC",
		"http": {"max_idle_conns": 10}
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, TypeMinio, cfg.Type)
	assert.Equal(t, SchemeTime, cfg.KeyScheme)
	require.NotNil(t, cfg.HTTP)
	assert.Equal(t, 10, cfg.HTTP.MaxIdleConns)
	assert.NoError(t, cfg.Validate())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{ServerURL: "http://h", AccessKey: "ak", SecretKey: "sk", Bucket: "b", Region: "r"}

	with := func(mut func(*Config)) Config {
		c := base
		mut(&c)
		return c.normalize()
	}

	tests := []struct {
		name  string
		cfg   Config
		valid bool
	}{
		{"s3", with(func(c *Config) { c.Type = TypeS3 }), true},
		{"s3 default credentials", with(func(c *Config) { c.Type = TypeS3; c.AccessKey, c.SecretKey = "", "" }), true},
		{"minio without keys", with(func(c *Config) { c.Type = TypeMinio; c.SecretKey = "" }), false},
		{"oss without region", with(func(c *Config) { c.Type = TypeOSS; c.Region = "" }), false},
		{"cos", with(func(c *Config) { c.Type = TypeCOS }), true},
		{"kodo without bucket", with(func(c *Config) { c.Type = TypeKodo; c.Bucket = "" }), false},
		{"local without root", with(func(c *Config) { c.Type = TypeLocal }), false},
		{"missing type", with(func(c *Config) {}), false},
		{"unknown type", with(func(c *Config) { c.Type = "ftp" }), false},
		{"missing server url", with(func(c *Config) { c.Type = TypeS3; c.ServerURL = "" }), false},
		{"bad prefix", with(func(c *Config) { c.Type = TypeS3; c.Prefix = "a/../b" }), false},
		{"bad scheme", with(func(c *Config) { c.Type = TypeS3; c.KeyScheme = "hourly" }), false},
		{"bad timezone", with(func(c *Config) { c.Type = TypeS3; c.KeyTimezone = "Mars/Olympus" }), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrConfiguration)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{SecretKey: "sk"}
	assert.Equal(t, "***", cfg.Redacted().SecretKey)
	assert.Equal(t, "sk", cfg.SecretKey)
}
