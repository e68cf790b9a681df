package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConfigYAML = `
server:
  host: 127.0.0.1
  port: "8080"
  request_timeout: 5s
storage:
  driver: bolt
boltdb:
  filepath: ./data/books.db
images:
  max_upload_size: 1048576
auth:
  jwt_secret: a-very-long-test-secret
ratelimit:
  enable: true
  burst: 10
`

func validTestConfig() *Config {
	return &Config{
		Server:  ServerConfig{Host: "127.0.0.1", Port: "8080"},
		Redis:   RedisConfig{Host: "127.0.0.1", Port: "6379"},
		Auth:    AuthConfig{JWTSecret: "a-very-long-test-secret"},
		Storage: StorageConfig{Driver: StorageDriverRedis},
	}
}

// TestLoadConfigFile ensures the yaml file is decoded into the config.
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))

	config, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, 5*time.Second, config.Server.RequestTimeout)
	assert.Equal(t, StorageDriverBolt, config.Storage.Driver)
	assert.Equal(t, int64(1048576), config.Images.MaxUploadSize)
	assert.True(t, config.RateLimit.Enable)
	assert.Equal(t, 10, config.RateLimit.Burst)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

// TestLoadConfigEnvs ensures environment variables override the file values.
func TestLoadConfigEnvs(t *testing.T) {
	t.Setenv("BRAP_SERVER_PORT", "9090")
	t.Setenv("BRAP_AUTH_JWT_SECRET", "from-the-environment")
	t.Setenv("BRAP_RATELIMIT_BURST", "3")
	config := validTestConfig()
	require.NoError(t, LoadConfigEnvs("BRAP", config))
	assert.Equal(t, "9090", config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, "from-the-environment", config.Auth.JWTSecret)
	assert.Equal(t, 3, config.RateLimit.Burst)
}

// TestInitConfigDefaults ensures missing values get their defaults.
func TestInitConfigDefaults(t *testing.T) {
	config := validTestConfig()
	config.Storage.Driver = ""
	require.NoError(t, InitConfig(config, "abc123", "v1.0.0", "2023-07-02"))

	assert.Equal(t, "abc123", config.GitCommit)
	assert.Equal(t, "v1.0.0", config.GitTag)
	assert.Equal(t, "2023-07-02", config.BuildTime)
	assert.Equal(t, "http://127.0.0.1:8080", config.Server.PublicURL)
	assert.Equal(t, "*", config.Server.AllowedOrigin)
	assert.Equal(t, StorageDriverRedis, config.Storage.Driver)
	assert.Equal(t, "books", config.BoltDB.BucketName)
	assert.Equal(t, "users", config.BoltDB.UsersBucketName)
	assert.Equal(t, 800, config.Images.MaxDimension)
	assert.Equal(t, 80, config.Images.Quality)
	assert.Equal(t, DefaultMaxImagePixels, config.Images.MaxPixels)
	assert.Equal(t, 24*time.Hour, config.Auth.TokenTTL)
	assert.Equal(t, 100, config.RateLimit.Burst)
	assert.InDelta(t, 0.111, config.RateLimit.RequestsPerSecond, 0.001)
	assert.Equal(t, ImageCleanupQueue, config.Queue.CleanupQueue)
	assert.Equal(t, 1024, config.Queue.Capacity)
	assert.Greater(t, config.Images.MaxUploadSize, int64(0))
}

// TestInitConfigPublicURL ensures a configured public url loses its trailing slash.
func TestInitConfigPublicURL(t *testing.T) {
	config := validTestConfig()
	config.Server.PublicURL = "https://books.example.com/"
	require.NoError(t, InitConfig(config, "", "", ""))
	assert.Equal(t, "https://books.example.com", config.Server.PublicURL)
}

// TestInitConfigErrors ensures invalid settings are reported.
func TestInitConfigErrors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing server host", func(c *Config) { c.Server.Host = "" }},
		{"missing server port", func(c *Config) { c.Server.Port = "" }},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "mongo" }},
		{"redis without address", func(c *Config) { c.Redis.Host = "" }},
		{"bolt without file", func(c *Config) { c.Storage.Driver = StorageDriverBolt }},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := validTestConfig()
			tc.mutate(config)
			assert.Error(t, InitConfig(config, "", "", ""))
		})
	}
}

// TestCreateLogFilePath ensures log file names carry the time and the environment.
func TestCreateLogFilePath(t *testing.T) {
	now := NewMockClocker().Now()
	assert.Equal(t, filepath.Join("logs", "20230702.000000.prod.log"), CreateLogFilePath("logs", true, now))
	assert.Equal(t, filepath.Join("logs", "20230702.000000.dev.log"), CreateLogFilePath("logs", false, now))
}

// TestRSyncWriterRotation ensures a new file is opened once the max size is reached.
func TestRSyncWriterRotation(t *testing.T) {
	folder := t.TempDir()
	clock := NewMockClocker()
	w := NewRSyncWriter(&Config{LogFolder: folder, LogMaxSize: 1, IsProduction: true}, clock)
	defer w.Close()

	chunk := []byte(strings.Repeat("a", 600*1024))
	_, err := w.Write(chunk)
	require.NoError(t, err)
	clock.MockNow = clock.MockNow.Add(time.Second)
	_, err = w.Write(chunk)
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	entries, err := os.ReadDir(folder)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	oversized := 1<<20 + 1
	_, err = w.Write(make([]byte, oversized))
	assert.Error(t, err)
}

// TestSetupLogging ensures entries are written as json with the build infos.
func TestSetupLogging(t *testing.T) {
	folder := t.TempDir()
	config := &Config{LogFolder: folder, LogMaxSize: 1, IsProduction: true, GitCommit: "abc123"}
	clock := NewMockClocker()
	w := NewRSyncWriter(config, clock)
	defer w.Close()

	logger, flush := SetupLogging(config, w, clock)
	logger.Info("hello", zap.String("book.id", "b:1"))
	logger.Debug("hidden")
	require.NoError(t, flush())

	data, err := os.ReadFile(CreateLogFilePath(folder, true, clock.Now()))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `"msg":"hello"`)
	assert.Contains(t, content, `"book.id":"b:1"`)
	assert.Contains(t, content, `"app.commit":"abc123"`)
	assert.Contains(t, content, `"ts":"2023-07-02T00:00:00.000Z"`)
	assert.NotContains(t, content, "hidden")
}

// TestRSyncWriterDailyRotation ensures a new file is opened when the day changes.
func TestRSyncWriterDailyRotation(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "logs")
	clock := NewMockClocker()
	w := NewRSyncWriter(&Config{LogFolder: folder, LogMaxSize: 1}, clock)
	defer w.Close()

	_, err := w.Write([]byte("first\n"))
	require.NoError(t, err)
	clock.MockNow = clock.MockNow.Add(time.Hour)
	_, err = w.Write([]byte("same day\n"))
	require.NoError(t, err)
	clock.MockNow = clock.MockNow.Add(24 * time.Hour)
	_, err = w.Write([]byte("next day\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(folder)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	data, err := os.ReadFile(CreateLogFilePath(folder, false, NewMockClocker().Now()))
	require.NoError(t, err)
	assert.Equal(t, "first\nsame day\n", string(data))
}
