package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	setDefaults(v)
	v.Set("LIVE_API_KEY", "test-key")
	v.Set("BLOB_BUCKET", "test-bucket")
	v.Set("FACE_DETECTOR_URL", "http://localhost:9001/detect")
	v.Set("JWT_SIGNING_KEY", "test-signing-key")
	return v
}

func TestGetApplicationConfig_Defaults(t *testing.T) {
	v := newTestViper(t)

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "livegateway", cfg.ServiceName)
	assert.Equal(t, int64(1000), cfg.SampleIntervalMs)
	assert.Equal(t, 3, cfg.CrowdThreshold)
	assert.Equal(t, 15, cfg.BlurRadiusMin)
	assert.Equal(t, int64(900), cfg.SignedURLTTLSecs)
	assert.Equal(t, 10, cfg.RateLimitRPM)
	assert.Equal(t, int64(300), cfg.SessionIdleSecs)
	assert.Equal(t, int64(200), cfg.BargeInMs)
}

func TestGetApplicationConfig_MissingRequired(t *testing.T) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	setDefaults(v)
	// LIVE_API_KEY, FACE_DETECTOR_URL, JWT_SIGNING_KEY intentionally absent.

	_, err := GetApplicationConfig(v)
	assert.Error(t, err)
}

func TestGetApplicationConfig_RejectsUnknownKey(t *testing.T) {
	v := newTestViper(t)
	v.Set("TOTALLY_UNKNOWN_KEY", "x")

	_, err := GetApplicationConfig(v)
	assert.ErrorContains(t, err, "unrecognized configuration key")
}

func TestGetApplicationConfig_CORSOriginsSplit(t *testing.T) {
	v := newTestViper(t)
	v.Set("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := GetApplicationConfig(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins())
}

func TestDurationHelpers(t *testing.T) {
	cfg := &AppConfig{
		SampleIntervalMs: 1000,
		SessionIdleSecs:  300,
		SessionCapSecs:   3600,
		BargeInMs:        200,
		SignedURLTTLSecs: 900,
	}

	assert.Equal(t, 1000*1e6, float64(cfg.SampleInterval()))
	assert.Equal(t, 300*1e9, float64(cfg.SessionIdleTimeout()))
	assert.Equal(t, 3600*1e9, float64(cfg.SessionWallClockCap()))
	assert.Equal(t, 200*1e6, float64(cfg.BargeInThreshold()))
	assert.Equal(t, 900*1e9, float64(cfg.SignedURLTTL()))
}
