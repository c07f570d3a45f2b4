package storage

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// UploadType names a storage backend.
type UploadType string

const (
	TypeLocal   UploadType = "local"
	TypeS3      UploadType = "s3"
	TypeMinio   UploadType = "minio"
	TypeOSS     UploadType = "oss"
	TypeCOS     UploadType = "cos"
	TypeKodo    UploadType = "kodo"
	TypeFastDFS UploadType = "fastdfs"
)

// DefaultLocalSegment is the public path segment local files are served under.
const DefaultLocalSegment = "file"

// Config is the provider configuration. It is resolved once at startup and
// never mutated afterwards; providers receive it by value.
type Config struct {
	Type      UploadType `json:"upload_type"`
	ServerURL string     `json:"server_url"`
	AccessKey string     `json:"access_key,omitempty"`
	SecretKey string     `json:"secret_key,omitempty"`
	Bucket    string     `json:"bucket,omitempty"`
	Region    string     `json:"region,omitempty"`
	Prefix    string     `json:"prefix,omitempty"`
	RootPath  string     `json:"root_path,omitempty"` // local only

	// Endpoint is the API endpoint when it differs from ServerURL
	// (s3 custom endpoint, fastdfs upload host).
	Endpoint string `json:"endpoint,omitempty"`

	KeyScheme   KeyScheme `json:"key_scheme,omitempty"`
	KeyTimezone string    `json:"key_timezone,omitempty"`

	// HTTP client tuning (optional, with sensible defaults)
	HTTP *HTTPConfig `json:"http,omitempty"`
}

// HTTPConfig contains HTTP client configuration for backend connections
type HTTPConfig struct {
	MaxIdleConns          int `json:"max_idle_conns,omitempty"`              // default: 100
	MaxIdleConnsPerHost   int `json:"max_idle_conns_per_host,omitempty"`     // default: 100
	MaxConnsPerHost       int `json:"max_conns_per_host,omitempty"`          // default: 0 = unlimited
	IdleConnTimeout       int `json:"idle_conn_timeout_sec,omitempty"`       // default: 90
	ConnectTimeout        int `json:"connect_timeout_sec,omitempty"`         // default: 10
	RequestTimeout        int `json:"request_timeout_sec,omitempty"`         // default: 0 = none
	ResponseHeaderTimeout int `json:"response_header_timeout_sec,omitempty"` // default: 30
}

// LoadConfig reads a JSON provider configuration file.
func LoadConfig(configPath string) (Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return cfg.normalize(), nil
}

// ConfigFromEnv builds a provider configuration from UPLOAD_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		Type:        UploadType(os.Getenv("UPLOAD_TYPE")),
		ServerURL:   os.Getenv("UPLOAD_SERVER_URL"),
		AccessKey:   os.Getenv("UPLOAD_ACCESS_KEY"),
		SecretKey:   os.Getenv("UPLOAD_SECRET_KEY"),
		Bucket:      os.Getenv("UPLOAD_BUCKET"),
		Region:      os.Getenv("UPLOAD_REGION"),
		Prefix:      os.Getenv("UPLOAD_PREFIX"),
		RootPath:    os.Getenv("UPLOAD_ROOT_PATH"),
		Endpoint:    os.Getenv("UPLOAD_ENDPOINT"),
		KeyScheme:   KeyScheme(os.Getenv("UPLOAD_KEY_SCHEME")),
		KeyTimezone: os.Getenv("UPLOAD_KEY_TIMEZONE"),
	}
	return cfg.normalize()
}

func (c Config) normalize() Config {
	c.Type = UploadType(strings.ToLower(strings.TrimSpace(string(c.Type))))
	if c.Type == "fast" {
		c.Type = TypeFastDFS
	}
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	c.Prefix = strings.Trim(strings.TrimSpace(c.Prefix), "/")
	if c.Type == TypeLocal && c.Bucket == "" {
		c.Bucket = DefaultLocalSegment
	}
	if c.KeyScheme == "" {
		c.KeyScheme = SchemeRandom
		if c.Type == TypeLocal {
			c.KeyScheme = SchemeDate
		}
	}
	return c
}

// Validate checks the settings required by the selected backend.
func (c Config) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("%w: upload type is required", ErrConfiguration)
	}
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server url is required for %s", ErrConfiguration, c.Type)
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("%w: server url: %v", ErrConfiguration, err)
	}
	if c.Prefix != "" && CleanPrefix(c.Prefix) != c.Prefix {
		return fmt.Errorf("%w: prefix %q contains empty, relative or backslash segments", ErrConfiguration, c.Prefix)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := NewKeyGenerator(c.KeyScheme, nil); err != nil {
		return err
	}

	switch c.Type {
	case TypeLocal:
		if c.RootPath == "" {
			return fmt.Errorf("%w: root path is required for local storage", ErrConfiguration)
		}
	case TypeS3, TypeMinio, TypeOSS, TypeCOS, TypeKodo:
		if c.Bucket == "" {
			return fmt.Errorf("%w: bucket is required for %s", ErrConfiguration, c.Type)
		}
		// s3 without static keys falls back to the default AWS credential chain
		if c.Type != TypeS3 && (c.AccessKey == "" || c.SecretKey == "") {
			return fmt.Errorf("%w: access key and secret key are required for %s", ErrConfiguration, c.Type)
		}
		if (c.Type == TypeOSS || c.Type == TypeCOS || c.Type == TypeKodo) && c.Region == "" {
			return fmt.Errorf("%w: region is required for %s", ErrConfiguration, c.Type)
		}
	case TypeFastDFS:
		if c.Bucket == "" {
			return fmt.Errorf("%w: bucket (group) is required for fastdfs", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown upload type %q", ErrConfiguration, c.Type)
	}
	return nil
}

// Location resolves KeyTimezone, defaulting to UTC.
func (c Config) Location() (*time.Location, error) {
	if c.KeyTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.KeyTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: key timezone: %v", ErrConfiguration, err)
	}
	return loc, nil
}

// Keys builds the key generator described by the configuration.
func (c Config) Keys(opts ...KeyOption) (*KeyGenerator, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	return NewKeyGenerator(c.KeyScheme, loc, opts...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.SecretKey != "" {
		c.SecretKey = "***"
	}
	return c
}
