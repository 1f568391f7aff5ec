package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration. It is loaded once at
// startup (defaults -> TOML file(s) -> environment -> CLI flags) and passed
// explicitly to each component; nothing reads the environment after load.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Bot      BotConfig      `toml:"bot"`
	Fetch    FetchConfig    `toml:"fetch"`
	Process  ProcessConfig  `toml:"process"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Storage  StorageConfig  `toml:"storage"`
	Admin    AdminConfig    `toml:"admin"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	// PublicBaseURL is the externally visible base for file links
	// (e.g. "https://files.example.com"). File URLs handed to users are
	// always built from this, never from filesystem paths.
	PublicBaseURL string `toml:"public_base_url" validate:"required,url"`
}

type BotConfig struct {
	Enabled     bool   `toml:"enabled"`
	Token       string `toml:"token"`
	APIBaseURL  string `toml:"api_base_url"` // Telegram Bot API base (override for tests)
	PollTimeout string `toml:"poll_timeout"` // long-poll timeout, e.g. "30s"
	AdminUserID int64  `toml:"admin_user_id"`
}

type FetchConfig struct {
	APIURL         string `toml:"api_url"`    // premium fetch API endpoint
	APIKey         string `toml:"api_key"`    // premium fetch API key
	APIUserID      string `toml:"api_user_id"`
	DownloadDir    string `toml:"download_dir" validate:"required"`
	MaxFileSize    int64  `toml:"max_file_size"`   // bytes, 0 = unlimited
	StallTimeout   string `toml:"stall_timeout"`   // e.g. "30s" - no bytes received
	RequestTimeout string `toml:"request_timeout"` // overall HTTP timeout per attempt
	RateLimit      string `toml:"rate_limit"`      // min interval between requests per host
	MaxRetries     int    `toml:"max_retries"`     // transient fetch retries
	Concurrency    int    `toml:"concurrency" validate:"gt=0"`
}

type ProcessConfig struct {
	FFmpegPath     string `toml:"ffmpeg_path"`
	FFprobePath    string `toml:"ffprobe_path"`
	ImagesDir      string `toml:"images_dir" validate:"required"`
	Timeout        string `toml:"timeout"` // wall-clock subprocess timeout
	Concurrency    int    `toml:"concurrency" validate:"gt=0"`
	ThumbnailWidth int    `toml:"thumbnail_width"`
}

type PipelineConfig struct {
	QueueCapacity     int    `toml:"queue_capacity" validate:"gt=0"`
	DedupWindow       string `toml:"dedup_window"`        // e.g. "5m"
	PersistMaxRetries int    `toml:"persist_max_retries"` // store-commit retries
	// ResumeOnRestart controls what happens to FileRecords left in a
	// non-terminal status by a previous process: re-enqueue them (true)
	// or mark them failed (false).
	ResumeOnRestart bool `toml:"resume_on_restart"`
}

type StorageConfig struct {
	Type   string       `toml:"type" validate:"oneof=mongo badger"`
	Mongo  MongoConfig  `toml:"mongo"`
	Badger BadgerConfig `toml:"badger"`
}

// MongoConfig holds connection settings for the MongoDB metadata store
type MongoConfig struct {
	URI             string `toml:"uri"`
	Database        string `toml:"database"`
	UsersCollection string `toml:"users_collection"`
	FilesCollection string `toml:"files_collection"`
	LogsCollection  string `toml:"logs_collection"`
	ConnectTimeout  string `toml:"connect_timeout"`
}

// BadgerConfig holds settings for the embedded Badger metadata store
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings should be exposed in ferry.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "localhost",
			Port:          8080,
			PublicBaseURL: "http://localhost:8080",
		},
		Bot: BotConfig{
			Enabled:     true,
			APIBaseURL:  "https://api.telegram.org",
			PollTimeout: "30s",
		},
		Fetch: FetchConfig{
			APIURL:         "http://api.premium.to/api/2/getfile.php",
			DownloadDir:    "./data/downloads",
			MaxFileSize:    2 * 1024 * 1024 * 1024, // 2 GB
			StallTimeout:   "30s",
			RequestTimeout: "15m",
			RateLimit:      "1s",
			MaxRetries:     3,
			Concurrency:    4,
		},
		Process: ProcessConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			ImagesDir:      "./data/images",
			Timeout:        "5m",
			Concurrency:    2, // CPU-bound, keep below fetch concurrency
			ThumbnailWidth: 640,
		},
		Pipeline: PipelineConfig{
			QueueCapacity:     256,
			DedupWindow:       "5m",
			PersistMaxRetries: 3,
			ResumeOnRestart:   false,
		},
		Storage: StorageConfig{
			Type: "badger",
			Mongo: MongoConfig{
				URI:             "mongodb://localhost:27017",
				Database:        "ferry",
				UsersCollection: "users",
				FilesCollection: "files",
				LogsCollection:  "logs",
				ConnectTimeout:  "10s",
			},
			Badger: BadgerConfig{
				Path: "./data/db",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for invalid or missing values
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Durations are kept as strings in TOML; fail fast on bad values
	for name, value := range map[string]string{
		"bot.poll_timeout":              c.Bot.PollTimeout,
		"fetch.stall_timeout":           c.Fetch.StallTimeout,
		"fetch.request_timeout":         c.Fetch.RequestTimeout,
		"fetch.rate_limit":              c.Fetch.RateLimit,
		"process.timeout":               c.Process.Timeout,
		"pipeline.dedup_window":         c.Pipeline.DedupWindow,
		"storage.mongo.connect_timeout": c.Storage.Mongo.ConnectTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s=%q is not a duration: %w", name, value, err)
		}
	}

	if c.Bot.Enabled && c.Bot.Token == "" {
		return fmt.Errorf("invalid configuration: bot.token is required when bot.enabled=true")
	}

	return nil
}

// Duration parses a duration config string, falling back to def on empty
// or malformed input. Validation has already rejected malformed values for
// loaded configs, so the fallback only matters for hand-built test configs.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Server
	if port := os.Getenv("FERRY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FERRY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if baseURL := os.Getenv("FERRY_FILE_HOST_BASE_URL"); baseURL != "" {
		config.Server.PublicBaseURL = baseURL
	}

	// Bot
	if token := os.Getenv("FERRY_TELEGRAM_BOT_TOKEN"); token != "" {
		config.Bot.Token = token
	}
	if enabled := os.Getenv("FERRY_BOT_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Bot.Enabled = b
		}
	}
	if adminID := os.Getenv("FERRY_ADMIN_USER_ID"); adminID != "" {
		if id, err := strconv.ParseInt(adminID, 10, 64); err == nil {
			config.Bot.AdminUserID = id
		}
	}

	// Fetch
	if apiKey := os.Getenv("FERRY_API_KEY"); apiKey != "" {
		config.Fetch.APIKey = apiKey
	}
	if apiUserID := os.Getenv("FERRY_API_USER_ID"); apiUserID != "" {
		config.Fetch.APIUserID = apiUserID
	}
	if dir := os.Getenv("FERRY_DOWNLOAD_DIR"); dir != "" {
		config.Fetch.DownloadDir = dir
	}
	if maxSize := os.Getenv("FERRY_MAX_FILE_SIZE"); maxSize != "" {
		if s, err := strconv.ParseInt(maxSize, 10, 64); err == nil {
			config.Fetch.MaxFileSize = s
		}
	}
	if concurrency := os.Getenv("FERRY_FETCH_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Fetch.Concurrency = c
		}
	}

	// Process
	if dir := os.Getenv("FERRY_IMAGES_DIR"); dir != "" {
		config.Process.ImagesDir = dir
	}
	if concurrency := os.Getenv("FERRY_PROCESS_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Process.Concurrency = c
		}
	}

	// Pipeline
	if resume := os.Getenv("FERRY_PIPELINE_RESUME_ON_RESTART"); resume != "" {
		if b, err := strconv.ParseBool(resume); err == nil {
			config.Pipeline.ResumeOnRestart = b
		}
	}

	// Storage
	if storageType := os.Getenv("FERRY_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if uri := os.Getenv("FERRY_MONGO_URI"); uri != "" {
		config.Storage.Mongo.URI = uri
	}
	if db := os.Getenv("FERRY_MONGO_DB_NAME"); db != "" {
		config.Storage.Mongo.Database = db
	}
	if coll := os.Getenv("FERRY_MONGO_USERS_COLLECTION"); coll != "" {
		config.Storage.Mongo.UsersCollection = coll
	}
	if coll := os.Getenv("FERRY_MONGO_FILES_COLLECTION"); coll != "" {
		config.Storage.Mongo.FilesCollection = coll
	}
	if coll := os.Getenv("FERRY_MONGO_LOGS_COLLECTION"); coll != "" {
		config.Storage.Mongo.LogsCollection = coll
	}
	if path := os.Getenv("FERRY_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Admin
	if username := os.Getenv("FERRY_ADMIN_USERNAME"); username != "" {
		config.Admin.Username = username
	}
	if password := os.Getenv("FERRY_ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}

	// Logging
	if level := os.Getenv("FERRY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("FERRY_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("FERRY_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}
