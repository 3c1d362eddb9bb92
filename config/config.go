package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"lawcrawl/models"
)

var validate = validator.New()

type Config struct {
	DatabaseURL string
	QueueDBPath string `validate:"required"`
	SitesDir    string
	JobsDir     string

	Log       LogConfig
	Proxy     ProxyConfig
	Fetch     FetchConfig
	Crawl     CrawlConfig
	Workers   WorkerConfig
	Scheduler SchedulerConfig
	Lookup    LookupConfig
	Archive   ArchiveConfig

	Sites map[string]*SiteConfig
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	File  string
}

type ProxyConfig struct {
	URL string `validate:"omitempty,url"`
}

type FetchConfig struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration `validate:"gtefield=MinDelay"`
	Timeout       time.Duration `validate:"gt=0"`
	HostRate      float64       `validate:"gte=0"`
	UserAgents    []string
	RespectRobots bool
	ProxyURL      string
	// BrowserFallback retries blocked pages through a real browser.
	BrowserFallback bool
	BrowserDataDir  string
	BrowserHeadless bool
}

type CrawlConfig struct {
	SyntheticFallback bool
	AutoDetail        bool
	AutoLookup        bool
	DetailLease       time.Duration
}

type WorkerConfig struct {
	Concurrency  int `validate:"min=1,max=64"`
	PollInterval time.Duration
}

type SchedulerConfig struct {
	Cron        string
	CleanupCron string
	Sweep       int `validate:"min=1"`
	// StaleTask is how long a task may sit in running before its worker
	// is presumed dead.
	StaleTask time.Duration
	// TaskRetention bounds how long finished tasks and task logs are kept.
	TaskRetention time.Duration
}

type LookupConfig struct {
	APIKey        string
	BaseURL       string `validate:"required,url"`
	Mode          string `validate:"oneof=api browser auto"`
	MaxProfiles   int    `validate:"min=1,max=25"`
	CacheTTL      time.Duration
	RetentionDays int `validate:"min=1"`

	BrowserEmail    string
	BrowserPassword string
	BrowserHeadless bool
	BrowserDataDir  string
}

type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether raw page archiving is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// SiteConfig overrides or adds selector maps for one directory. URLPattern
// lays out its listing URLs, e.g.
// "{base_url}/attorneys/{state}/{city}/{practice_area}".
type SiteConfig struct {
	ID         string                         `yaml:"id" validate:"required"`
	Name       string                         `yaml:"name"`
	BaseURL    string                         `yaml:"base_url" validate:"omitempty,url"`
	URLPattern string                         `yaml:"url_pattern"`
	Selectors  map[string]map[string][]string `yaml:"selectors"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		QueueDBPath: getEnv("QUEUE_DB_PATH", "queue.db"),
		SitesDir:    getEnv("SITES_DIR", "config/sites"),
		JobsDir:     getEnv("JOBS_DIR", "config/jobs"),
		Log: LogConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", "info")),
			File:  getEnv("LOG_FILE", "lawcrawl.log"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Fetch: FetchConfig{
			MinDelay:      getEnvDuration("FETCH_MIN_DELAY", time.Second),
			MaxDelay:      getEnvDuration("FETCH_MAX_DELAY", 3*time.Second),
			Timeout:       getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
			HostRate:      getEnvFloat("FETCH_HOST_RATE", 1.0),
			RespectRobots: getEnvBool("RESPECT_ROBOTS", false),
			ProxyURL:      os.Getenv("PROXY_URL"),

			BrowserFallback: getEnvBool("FETCH_BROWSER_FALLBACK", false),
			BrowserDataDir:  getEnv("FETCH_BROWSER_DATA_DIR", "browser_data"),
			BrowserHeadless: getEnvBool("FETCH_BROWSER_HEADLESS", true),
		},
		Crawl: CrawlConfig{
			SyntheticFallback: getEnvBool("SYNTHETIC_FALLBACK", true),
			AutoDetail:        getEnvBool("AUTO_DETAIL", true),
			AutoLookup:        getEnvBool("AUTO_LOOKUP", false),
			DetailLease:       getEnvDuration("DETAIL_LEASE", 10*time.Minute),
		},
		Workers: WorkerConfig{
			Concurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
			PollInterval: getEnvDuration("POLL_INTERVAL", 2*time.Second),
		},
		Scheduler: SchedulerConfig{
			Cron:          getEnv("MAINTENANCE_CRON", "*/5 * * * *"),
			CleanupCron:   getEnv("CLEANUP_CRON", "0 3 * * *"),
			Sweep:         getEnvInt("MAINTENANCE_SWEEP", 100),
			StaleTask:     getEnvDuration("STALE_TASK_AFTER", 30*time.Minute),
			TaskRetention: getEnvDuration("TASK_RETENTION", 14*24*time.Hour),
		},
		Lookup: LookupConfig{
			APIKey:          os.Getenv("ROCKETREACH_API_KEY"),
			BaseURL:         getEnv("ROCKETREACH_BASE_URL", "https://api.rocketreach.co/v2"),
			Mode:            strings.ToLower(getEnv("LOOKUP_MODE", "api")),
			MaxProfiles:     getEnvInt("LOOKUP_MAX_PROFILES", 3),
			CacheTTL:        getEnvDuration("LOOKUP_CACHE_TTL", 30*time.Minute),
			RetentionDays:   getEnvInt("LOOKUP_RETENTION_DAYS", 7),
			BrowserEmail:    os.Getenv("ROCKETREACH_EMAIL"),
			BrowserPassword: os.Getenv("ROCKETREACH_PASSWORD"),
			BrowserHeadless: getEnvBool("BROWSER_HEADLESS", true),
			BrowserDataDir:  getEnv("BROWSER_DATA_DIR", "browser_data"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_SECRET_ACCESS_KEY"),
		},
		Sites: make(map[string]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "invalid config")
	}
	for id, site := range c.Sites {
		if err := validate.Struct(site); err != nil {
			return eris.Wrapf(err, "invalid site config %s", id)
		}
	}
	return nil
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrap(err, "read sites dir")
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.SitesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "read %s", path)
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return eris.Wrapf(err, "parse %s", path)
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

// LoadJobSpec reads a job definition from YAML and validates it.
func LoadJobSpec(path string) (models.JobSpec, error) {
	spec, err := ReadJobSpec(path)
	if err != nil {
		return spec, err
	}
	return spec, ValidateJobSpec(spec)
}

// ReadJobSpec parses a job definition without validating it.
func ReadJobSpec(path string) (models.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.JobSpec{}, eris.Wrapf(err, "read %s", path)
	}
	var spec models.JobSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return models.JobSpec{}, eris.Wrapf(err, "parse %s", path)
	}
	return spec.WithDefaults(), nil
}

// ValidateJobSpec checks field constraints and that the spec yields at least
// one start URL, either listed or generated from the practice/state matrix.
func ValidateJobSpec(spec models.JobSpec) error {
	if err := validate.Struct(spec); err != nil {
		return eris.Wrap(err, "invalid job spec")
	}
	if len(spec.PracticeAreas) > 0 != (len(spec.States) > 0) {
		return eris.New("invalid job spec: practice_areas and states must be given together")
	}
	if spec.HasMatrix() && spec.Site == "" {
		return eris.New("invalid job spec: site is required to generate start urls")
	}
	if len(spec.StartURLs) == 0 && !spec.HasMatrix() {
		return eris.New("invalid job spec: start_urls or practice_areas with states is required")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("1.5").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return defaultVal
}
