package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "THREADPOST"

type Threads struct {
	BaseURL string `envconfig:"THREADS_BASE_URL" default:"https://graph.threads.net/v1.0"`
	// MaxTextRunes is the platform limit on post text length.
	MaxTextRunes int `envconfig:"THREADS_MAX_TEXT" default:"500"`
}

type Cloudinary struct {
	CloudName string `envconfig:"CLOUDINARY_CLOUD_NAME"`
	APIKey    string `envconfig:"CLOUDINARY_API_KEY"`
	APISecret string `envconfig:"CLOUDINARY_API_SECRET"`
	Folder    string `envconfig:"CLOUDINARY_FOLDER"`
	BaseURL   string `envconfig:"CLOUDINARY_BASE_URL" default:"https://api.cloudinary.com/v1_1"`
}

type R2 struct {
	AccountID  string `envconfig:"R2_ACCOUNT_ID"`
	AccessKey  string `envconfig:"R2_ACCESS_KEY"`
	SecretKey  string `envconfig:"R2_SECRET_KEY"`
	BucketName string `envconfig:"R2_BUCKET_NAME"`
	PublicURL  string `envconfig:"R2_PUBLIC_URL"`
}

type Schedule struct {
	HourSlots     []int         `envconfig:"HOUR_SLOTS" default:"8,12,18,21"`
	Timezone      string        `envconfig:"TIMEZONE" default:"Local"`
	TickInterval  time.Duration `envconfig:"TICK_INTERVAL" default:"60s"`
	StateFile     string        `envconfig:"SCHEDULER_STATE_FILE"`
	RefreshEvery  time.Duration `envconfig:"TOKEN_REFRESH_INTERVAL" default:"24h"`
	RefreshTokens bool          `envconfig:"TOKEN_REFRESH_ENABLED" default:"false"`
}

type Posting struct {
	ReplyDelay           time.Duration `envconfig:"REPLY_DELAY" default:"5s"`
	InterAccountDelayMin time.Duration `envconfig:"INTER_ACCOUNT_DELAY_MIN" default:"10s"`
	InterAccountDelayMax time.Duration `envconfig:"INTER_ACCOUNT_DELAY_MAX" default:"30s"`
	RecentDepth          int           `envconfig:"RECENT_DEPTH" default:"3"`
	AllowShared          bool          `envconfig:"ALLOW_SHARED" default:"true"`
}

type Retry struct {
	MaxAttempts     int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	InitialInterval time.Duration `envconfig:"RETRY_INITIAL" default:"2s"`
	MaxInterval     time.Duration `envconfig:"RETRY_MAX" default:"30s"`
	CallTimeout     time.Duration `envconfig:"CALL_TIMEOUT" default:"60s"`
}

type Media struct {
	Dir             string        `envconfig:"MEDIA_DIR" default:"media"`
	Host            string        `envconfig:"MEDIA_HOST" default:"cloudinary"`
	UploadCacheTTL  time.Duration `envconfig:"UPLOAD_CACHE_TTL" default:"6h"`
	UploadCacheMax  int           `envconfig:"UPLOAD_CACHE_MAX" default:"1000"`
	MaxContinuation int           `envconfig:"MEDIA_MAX_CONTINUATION" default:"9"`
}

type Config struct {
	DataDir        string `envconfig:"DATA_DIR" default:"data"`
	ContentsFile   string `envconfig:"CONTENTS_FILE" default:"contents.csv"`
	AffiliatesFile string `envconfig:"AFFILIATES_FILE" default:"affiliates.csv"`
	AccountsFile   string `envconfig:"ACCOUNTS_FILE" default:"accounts.json"`
	ProxiesFile    string `envconfig:"PROXIES_FILE" default:"proxies.txt"`
	// CredentialsFile switches the credential source from the environment
	// to an encrypted file when set.
	CredentialsFile string   `envconfig:"CREDENTIALS_FILE"`
	SourceEncodings []string `envconfig:"SOURCE_ENCODINGS" default:"utf-8,shift_jis,euc-jp"`

	SecretKey  string `envconfig:"SECRET_KEY"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":3000"`
	RedisURI   string `envconfig:"REDIS_URI" default:"127.0.0.1:6379"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile    string `envconfig:"LOG_FILE"`

	// Sections are embedded so their variables share the THREADPOST_ prefix.
	Threads
	Cloudinary
	R2
	Schedule
	Posting
	Retry
	Media
}

// LoadConfig reads an optional .env file and then THREADPOST_* variables.
func LoadConfig(envFiles ...string) (*Config, error) {
	// a missing .env is normal in production
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	for _, h := range c.Schedule.HourSlots {
		if h < 0 || h > 23 {
			return fmt.Errorf("hour slot %d out of range 0-23", h)
		}
	}
	if c.Posting.InterAccountDelayMax < c.Posting.InterAccountDelayMin {
		return fmt.Errorf("inter-account delay max %s below min %s",
			c.Posting.InterAccountDelayMax, c.Posting.InterAccountDelayMin)
	}
	if c.Posting.RecentDepth < 0 {
		return fmt.Errorf("recent depth must not be negative")
	}
	if c.Media.MaxContinuation < 0 {
		return fmt.Errorf("media continuation cap must not be negative")
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" || c.Schedule.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// Path resolves a configured file name against DataDir unless it is absolute.
func (c *Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

func (c *Config) SchedulerStateFile() string {
	if c.Schedule.StateFile != "" {
		return c.Path(c.Schedule.StateFile)
	}
	return c.Path("scheduler.json")
}
