package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Supported storage drivers.
const (
	StorageDriverRedis = "redis"
	StorageDriverBolt  = "bolt"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit               string          `yaml:"git_commit" envconfig:"BRAP_GIT_COMMIT"`
	GitTag                  string          `yaml:"git_tag" envconfig:"BRAP_GIT_TAG"`
	BuildTime               string          `yaml:"build_time" envconfig:"BRAP_BUILD_TIME"`
	IsProduction            bool            `yaml:"is_production" envconfig:"BRAP_IS_PRODUCTION"`
	LogLevel                zapcore.Level   `yaml:"log_level" envconfig:"BRAP_LOG_LEVEL"`
	LogFolder               string          `yaml:"log_folder" envconfig:"BRAP_LOG_FOLDER"`
	LogMaxSize              int             `yaml:"log_max_size" envconfig:"BRAP_LOG_MAX_SIZE"` // megabytes
	OpsEndpointsEnable      bool            `yaml:"ops_endpoints_enable" envconfig:"BRAP_OPS_ENDPOINTS_ENABLE"`
	ProfilerEndpointsEnable bool            `yaml:"profiler_endpoints_enable" envconfig:"BRAP_PROFILER_ENDPOINTS_ENABLE"`
	Server                  ServerConfig    `yaml:"server"`
	Storage                 StorageConfig   `yaml:"storage"`
	Redis                   RedisConfig     `yaml:"redis"`
	BoltDB                  BoltDBConfig    `yaml:"boltdb"`
	Images                  ImagesConfig    `yaml:"images"`
	Auth                    AuthConfig      `yaml:"auth"`
	RateLimit               RateLimitConfig `yaml:"ratelimit"`
	Queue                   QueueConfig     `yaml:"queue"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"BRAP_SERVER_HOST"`
	Port            string        `yaml:"port" envconfig:"BRAP_SERVER_PORT"`
	PublicURL       string        `yaml:"public_url" envconfig:"BRAP_SERVER_PUBLIC_URL"`
	AllowedOrigin   string        `yaml:"allowed_origin" envconfig:"BRAP_SERVER_ALLOWED_ORIGIN"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"BRAP_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"BRAP_SERVER_WRITE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"BRAP_SERVER_REQUEST_TIMEOUT"` // Time to wait for a request to finish
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"BRAP_SERVER_SHUTDOWN_TIMEOUT"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"BRAP_STORAGE_DRIVER"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"BRAP_REDIS_HOST"`
	Port          string        `yaml:"port" envconfig:"BRAP_REDIS_PORT"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"BRAP_REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"BRAP_REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"BRAP_REDIS_WRITE_TIMEOUT"`
	PoolSize      int           `yaml:"pool_size" envconfig:"BRAP_REDIS_POOL_SIZE"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"BRAP_REDIS_POOL_TIMEOUT"`
	Username      string        `yaml:"username" envconfig:"BRAP_REDIS_USERNAME"`
	Password      string        `yaml:"password" envconfig:"BRAP_REDIS_PASSWORD"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"BRAP_REDIS_DATABASE_INDEX"`
}

type BoltDBConfig struct {
	FilePath        string        `yaml:"filepath" envconfig:"BRAP_BOLTDB_FILE_PATH"`
	Timeout         time.Duration `yaml:"timeout" envconfig:"BRAP_BOLTDB_TIMEOUT"`
	BucketName      string        `yaml:"bucket_name" envconfig:"BRAP_BOLTDB_BUCKET_NAME"`
	UsersBucketName string        `yaml:"users_bucket_name" envconfig:"BRAP_BOLTDB_USERS_BUCKET_NAME"`
}

type ImagesConfig struct {
	Folder        string `yaml:"folder" envconfig:"BRAP_IMAGES_FOLDER"`
	MaxUploadSize int64  `yaml:"max_upload_size" envconfig:"BRAP_IMAGES_MAX_UPLOAD_SIZE"` // bytes
	MaxDimension  int    `yaml:"max_dimension" envconfig:"BRAP_IMAGES_MAX_DIMENSION"`
	Quality       int    `yaml:"quality" envconfig:"BRAP_IMAGES_QUALITY"`
	MaxPixels     int64  `yaml:"max_pixels" envconfig:"BRAP_IMAGES_MAX_PIXELS"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" envconfig:"BRAP_AUTH_JWT_SECRET"`
	Issuer     string        `yaml:"issuer" envconfig:"BRAP_AUTH_ISSUER"`
	TokenTTL   time.Duration `yaml:"token_ttl" envconfig:"BRAP_AUTH_TOKEN_TTL"`
	BcryptCost int           `yaml:"bcrypt_cost" envconfig:"BRAP_AUTH_BCRYPT_COST"`
}

type RateLimitConfig struct {
	Enable            bool          `yaml:"enable" envconfig:"BRAP_RATELIMIT_ENABLE"`
	RequestsPerSecond float64       `yaml:"requests_per_second" envconfig:"BRAP_RATELIMIT_REQUESTS_PER_SECOND"`
	Burst             int           `yaml:"burst" envconfig:"BRAP_RATELIMIT_BURST"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" envconfig:"BRAP_RATELIMIT_IDLE_TIMEOUT"`
}

type QueueConfig struct {
	CleanupQueue string `yaml:"cleanup_queue" envconfig:"BRAP_QUEUE_CLEANUP_QUEUE"`
	Capacity     int    `yaml:"capacity" envconfig:"BRAP_QUEUE_CAPACITY"`
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	yd := yaml.NewDecoder(file)
	err = yd.Decode(cfg)

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnvs reads the environments variables and provides an instance of the App config.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig setup defaults values for non provided parameters
// and configures build tags values to be used if provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	if len(config.Server.Host) == 0 || len(config.Server.Port) == 0 {
		return errors.New("make sure to set valid server address and port in configuration file")
	}

	if config.Server.PublicURL == "" {
		config.Server.PublicURL = fmt.Sprintf("http://%s:%s", config.Server.Host, config.Server.Port)
	}
	config.Server.PublicURL = strings.TrimSuffix(config.Server.PublicURL, "/")

	if config.Server.AllowedOrigin == "" {
		config.Server.AllowedOrigin = "*"
	}

	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 30 * time.Second
	}

	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 10 * time.Second
	}

	switch config.Storage.Driver {
	case "":
		config.Storage.Driver = StorageDriverRedis
	case StorageDriverRedis, StorageDriverBolt:
	default:
		return fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	if config.Storage.Driver == StorageDriverRedis && (len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0) {
		return errors.New("make sure to set valid redis address and port in configuration file")
	}

	if config.Storage.Driver == StorageDriverBolt && len(config.BoltDB.FilePath) == 0 {
		return errors.New("make sure to set a valid boltdb file path in configuration file")
	}

	if config.BoltDB.BucketName == "" {
		config.BoltDB.BucketName = "books"
	}

	if config.BoltDB.UsersBucketName == "" {
		config.BoltDB.UsersBucketName = "users"
	}

	if config.Images.Folder == "" {
		config.Images.Folder = "./images"
	}

	if config.Images.MaxUploadSize <= 0 {
		config.Images.MaxUploadSize = 5 << 20
	}

	if config.Images.MaxDimension <= 0 {
		config.Images.MaxDimension = 800
	}

	if config.Images.Quality <= 0 || config.Images.Quality > 100 {
		config.Images.Quality = 80
	}

	if config.Images.MaxPixels <= 0 {
		config.Images.MaxPixels = DefaultMaxImagePixels
	}

	if len(config.Auth.JWTSecret) < 16 {
		return errors.New("make sure to set a jwt secret of at least 16 characters")
	}

	if config.Auth.Issuer == "" {
		config.Auth.Issuer = "book-ratings"
	}

	if config.Auth.TokenTTL == 0 {
		config.Auth.TokenTTL = 24 * time.Hour
	}

	if config.Auth.BcryptCost == 0 {
		config.Auth.BcryptCost = 10
	}

	if config.RateLimit.RequestsPerSecond <= 0 {
		config.RateLimit.RequestsPerSecond = 100.0 / (15 * 60)
	}

	if config.RateLimit.Burst <= 0 {
		config.RateLimit.Burst = 100
	}

	if config.RateLimit.IdleTimeout == 0 {
		config.RateLimit.IdleTimeout = 15 * time.Minute
	}

	if config.Queue.CleanupQueue == "" {
		config.Queue.CleanupQueue = ImageCleanupQueue
	}

	if config.Queue.Capacity <= 0 {
		config.Queue.Capacity = 1024
	}

	if config.LogMaxSize <= 0 {
		config.LogMaxSize = 10
	}

	if config.LogFolder == "" {
		config.LogFolder = "./logs"
	}

	return nil
}

// LoadAndInitConfigs loads in order the configs from various predefined sources
// then build the App configuration data.
func LoadAndInitConfigs(gitCommit, gitTag, buildTime string) (*Config, error) {
	// Setup the yaml configuration from file.
	config, err := LoadConfigFile("./config.yml")
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// Set the environment configuration. The file is optional.
	err = godotenv.Load("./config.env")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to set environment configurations: %s", err)
	}

	// Use environment variables with prefix `BRAP`.
	err = LoadConfigEnvs("BRAP", config)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	err = InitConfig(config, gitCommit, gitTag, buildTime)
	if err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
