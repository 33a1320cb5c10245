package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Media     MediaConfig     `mapstructure:"media"`
	Index     IndexConfig     `mapstructure:"index"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Answerer  AnswererConfig  `mapstructure:"answerer"`
	Search    SearchConfig    `mapstructure:"search"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`   // sqlite file path
	DSN             string        `mapstructure:"dsn"`    // postgres connection string
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig selects where clip artifacts and previews are published.
// "local" serves straight from the data directory; "s3" targets any
// S3-compatible endpoint (AWS, R2, MinIO).
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // local, s3
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// MediaConfig holds segmentation pipeline settings.
type MediaConfig struct {
	BaseDir       string  `mapstructure:"base_dir"`
	ClipSeconds   float64 `mapstructure:"clip_seconds"`
	TargetWidth   int     `mapstructure:"target_width"`
	TargetHeight  int     `mapstructure:"target_height"`
	Workers       int     `mapstructure:"workers"`
	PreviewFPS    int     `mapstructure:"preview_fps"`
	PreviewWidth  int     `mapstructure:"preview_width"`
	PreviewMaxSec float64 `mapstructure:"preview_max_sec"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	Path      string `mapstructure:"path"`
	Dimension int    `mapstructure:"dimension"`
}

// EmbeddingConfig points at the external multimodal embedding server.
type EmbeddingConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// AnswererConfig points at an OpenAI-compatible chat completion API used to
// phrase answers over retrieved clips.
type AnswererConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type SearchConfig struct {
	DefaultTopK         int      `mapstructure:"default_top_k"`
	SupportedExtensions []string `mapstructure:"supported_extensions"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/vidseek.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.bucket", "vidseek")
	v.SetDefault("media.base_dir", "./data/processed")
	v.SetDefault("media.clip_seconds", 30.0)
	v.SetDefault("media.target_width", 640)
	v.SetDefault("media.target_height", 360)
	v.SetDefault("media.workers", 0) // 0 = min(NumCPU, 8)
	v.SetDefault("media.preview_fps", 8)
	v.SetDefault("media.preview_width", 280)
	v.SetDefault("media.preview_max_sec", 8.0)
	v.SetDefault("index.path", "./data/video_index")
	v.SetDefault("index.dimension", 1024)
	v.SetDefault("embedding.base_url", "http://localhost:8600")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.timeout", 2*time.Minute)
	v.SetDefault("answerer.enabled", true)
	v.SetDefault("answerer.model", "gpt-4o-mini")
	v.SetDefault("answerer.base_url", "https://api.openai.com/v1")
	v.SetDefault("search.default_top_k", 5)
	v.SetDefault("search.supported_extensions", []string{".mp4", ".avi", ".mov", ".mkv"})

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("embedding.base_url", "EMBEDDING_BASE_URL")
	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("answerer.api_key", "OPENAI_API_KEY")
	v.BindEnv("answerer.base_url", "OPENAI_BASE_URL")
	v.BindEnv("answerer.model", "ANSWERER_MODEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
