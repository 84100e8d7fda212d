// Package config loads and validates the gateway's environment
// configuration, mirroring the teacher's viper + validator pattern in
// api/integration-api/config/config.go.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// PostgresConfig holds the GalleryStore RecordStore connection settings.
type PostgresConfig struct {
	Host              string `mapstructure:"host" validate:"required"`
	Port              int    `mapstructure:"port" validate:"required"`
	DBName            string `mapstructure:"db_name" validate:"required"`
	User              string `mapstructure:"user" validate:"required"`
	Password          string `mapstructure:"password"`
	SSLMode           string `mapstructure:"ssl_mode"`
	MaxOpenConnection int    `mapstructure:"max_open_connection"`
	MaxIdleConnection int    `mapstructure:"max_idle_connection"`
}

// RedisConfig holds the /process-frame idempotency-cache connection.
type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AppConfig is the fully validated, typed configuration for one gateway
// process. Every field maps to a documented env key via mapstructure tags.
type AppConfig struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFile     string `mapstructure:"log_file"`

	LiveAPIKey      string `mapstructure:"live_api_key" validate:"required"`
	LiveModel       string `mapstructure:"live_model" validate:"required"`
	SpatialModel    string `mapstructure:"spatial_model" validate:"required"`
	BlobBucket      string `mapstructure:"blob_bucket" validate:"required"`
	RecordNamespace string `mapstructure:"record_namespace" validate:"required"`

	// Ambient-stack additions: spec.md §6 names only BLOB_BUCKET, but a
	// concrete aws-sdk-go S3 client needs a region. BlobEndpoint,
	// BlobAccessKey and BlobSecretKey are accepted keys but are not passed to
	// the S3 client: cmd/gateway wires only the bucket and region, and
	// credentials come from the standard aws-sdk-go chain.
	BlobRegion    string `mapstructure:"blob_region" validate:"required"`
	BlobEndpoint  string `mapstructure:"blob_endpoint"`
	BlobAccessKey string `mapstructure:"blob_access_key"`
	BlobSecretKey string `mapstructure:"blob_secret_key"`

	SampleIntervalMs  int64 `mapstructure:"sample_interval_ms" validate:"required,gt=0"`
	CrowdThreshold    int   `mapstructure:"crowd_threshold" validate:"required,gt=0"`
	BlurRadiusMin     int   `mapstructure:"blur_radius_min" validate:"required,gt=0"`
	SignedURLTTLSecs  int64 `mapstructure:"signed_url_ttl_secs" validate:"required,gt=0"`
	RateLimitRPM      int   `mapstructure:"rate_limit_rpm" validate:"required,gt=0"`
	SessionIdleSecs   int64 `mapstructure:"session_idle_secs" validate:"required,gt=0"`
	SessionCapSecs    int64 `mapstructure:"session_cap_secs" validate:"required,gt=0"`
	BargeInMs         int64 `mapstructure:"bargein_ms" validate:"required,gt=0"`
	FaceDetectTimeout int64 `mapstructure:"face_detect_timeout_ms" validate:"required,gt=0"`

	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"`

	FaceDetectorURL string `mapstructure:"face_detector_url" validate:"required"`
	JWTSigningKey   string `mapstructure:"jwt_signing_key" validate:"required"`

	Postgres PostgresConfig `mapstructure:"postgres" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
}

// SampleInterval returns SampleIntervalMs as a time.Duration.
func (c *AppConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMs) * time.Millisecond
}

// SessionIdleTimeout returns SessionIdleSecs as a time.Duration.
func (c *AppConfig) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleSecs) * time.Second
}

// SessionWallClockCap returns SessionCapSecs as a time.Duration.
func (c *AppConfig) SessionWallClockCap() time.Duration {
	return time.Duration(c.SessionCapSecs) * time.Second
}

// BargeInThreshold returns BargeInMs as a time.Duration.
func (c *AppConfig) BargeInThreshold() time.Duration {
	return time.Duration(c.BargeInMs) * time.Millisecond
}

// SignedURLTTL returns SignedURLTTLSecs as a time.Duration.
func (c *AppConfig) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSecs) * time.Second
}

// CORSOrigins splits the comma-separated CORSAllowedOrigins into a slice,
// trimming whitespace and dropping empty entries. An empty configuration
// value yields nil (no cross-origin access allowed).
func (c *AppConfig) CORSOrigins() []string {
	return splitNonEmpty(c.CORSAllowedOrigins, ",")
}

// InitConfig builds a viper instance reading ".env" (or ENV_PATH) and the
// process environment, keyed the same way the teacher's InitConfig does.
func InitConfig() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("env")
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows; the required keys
	// with no default are bound explicitly so Unmarshal sees them.
	for _, key := range []string{"LIVE_API_KEY", "BLOB_BUCKET", "FACE_DETECTOR_URL", "JWT_SIGNING_KEY"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "livegateway")
	v.SetDefault("VERSION", "0.1.0")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")

	v.SetDefault("RECORD_NAMESPACE", "livegateway")
	v.SetDefault("LIVE_MODEL", "gemini-2.0-flash-live-001")
	v.SetDefault("SPATIAL_MODEL", "gemini-2.0-flash")

	v.SetDefault("SAMPLE_INTERVAL_MS", 1000)
	v.SetDefault("CROWD_THRESHOLD", 3)
	v.SetDefault("BLUR_RADIUS_MIN", 15)
	v.SetDefault("SIGNED_URL_TTL_SECS", 900)
	v.SetDefault("RATE_LIMIT_RPM", 10)
	v.SetDefault("SESSION_IDLE_SECS", 300)
	v.SetDefault("SESSION_CAP_SECS", 3600)
	v.SetDefault("BARGEIN_MS", 200)
	v.SetDefault("FACE_DETECT_TIMEOUT_MS", 2000)

	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "livegateway")
	v.SetDefault("POSTGRES__USER", "livegateway")
	v.SetDefault("POSTGRES__PASSWORD", "")
	v.SetDefault("POSTGRES__SSL_MODE", "disable")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDLE_CONNECTION", 10)

	v.SetDefault("REDIS__HOST", "localhost")
	v.SetDefault("REDIS__PORT", 6379)
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)

	v.SetDefault("BLOB_REGION", "us-east-1")
	v.SetDefault("BLOB_ENDPOINT", "")
	v.SetDefault("BLOB_ACCESS_KEY", "")
	v.SetDefault("BLOB_SECRET_KEY", "")
}

// GetApplicationConfig unmarshals and validates v into an AppConfig,
// rejecting both constraint violations and any key viper holds (from the
// config file, defaults, bound environment variables or explicit Set calls)
// whose top-level segment is not an AppConfig mapstructure tag. Process
// environment variables are only looked up for known keys and are never
// enumerated, so an unrecognized variable in the process environment is not
// detected.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	if err := rejectUnknownKeys(v); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func splitNonEmpty(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// rejectUnknownKeys walks v.AllKeys() and fails closed on any key whose
// top-level segment is not one of the AppConfig mapstructure tags.
func rejectUnknownKeys(v *viper.Viper) error {
	known := mapstructureKeys(reflect.TypeOf(AppConfig{}))
	for _, key := range v.AllKeys() {
		top := strings.SplitN(key, "__", 2)[0]
		if !known[top] {
			return fmt.Errorf("unrecognized configuration key %q", key)
		}
	}
	return nil
}

func mapstructureKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("mapstructure")
		if tag != "" && tag != "-" {
			keys[tag] = true
		}
	}
	return keys
}
