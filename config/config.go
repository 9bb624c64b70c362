package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory   = "memory"
	BackendTables   = "tables"
	BackendPostgres = "postgres"
)

type Config struct {
	Debug      bool   `yaml:"debug" env:"DEBUG" env-default:"false"`
	ListenPort string `yaml:"port" env:"FUNCTIONS_CUSTOMHANDLER_PORT" env-default:"8080"`

	Storage    Storage    `yaml:"storage"`
	Redis      Redis      `yaml:"redis"`
	Auth       Auth       `yaml:"auth"`
	Reminder   Reminder   `yaml:"reminder"`
	Notify     Notify     `yaml:"notify"`
	Attachment Attachment `yaml:"attachments"`
}

type Storage struct {
	Backend          string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"memory"`
	ConnectionString string `yaml:"connection_string" env:"STORAGE_CONNECTION_STRING"`
	TasksTable       string `yaml:"tasks_table" env:"TASKS_TABLE" env-default:"Tasks"`
	UsersTable       string `yaml:"users_table" env:"USERS_TABLE" env-default:"Users"`
	DatabaseURL      string `yaml:"database_url" env:"DATABASE_URL"`
}

type Redis struct {
	ConnectionString string        `yaml:"connection_string" env:"REDIS_CONNECTION_STRING"`
	CacheTTL         time.Duration `yaml:"cache_ttl" env:"TASKS_CACHE_TTL" env-default:"5m"`
	LeaseKey         string        `yaml:"lease_key" env:"REMINDER_LEASE_KEY" env-default:"tasklane:reminder:lease"`
}

type Auth struct {
	Domain        string `yaml:"domain" env:"AUTH0_DOMAIN"`
	Audience      string `yaml:"audience" env:"AUTH0_AUDIENCE"`
	LocalMode     bool   `yaml:"local_mode" env:"LOCAL_AUTH_MODE" env-default:"false"`
	LocalSecret   string `yaml:"local_secret" env:"LOCAL_AUTH_SECRET"`
	LocalIssuer   string `yaml:"local_issuer" env:"LOCAL_AUTH_ISSUER" env-default:"tasklane-local"`
	LocalAudience string `yaml:"local_audience" env:"LOCAL_AUTH_AUDIENCE" env-default:"tasklane"`
}

type Reminder struct {
	Enabled   bool          `yaml:"enabled" env:"REMINDER_ENABLED" env-default:"true"`
	Interval  time.Duration `yaml:"interval" env:"REMINDER_INTERVAL" env-default:"10m"`
	LeadTime  time.Duration `yaml:"lead_time" env:"REMINDER_LEAD_TIME" env-default:"24h"`
	Tolerance time.Duration `yaml:"tolerance" env:"REMINDER_TOLERANCE" env-default:"15m"`
	TimeZone  string        `yaml:"time_zone" env:"REMINDER_TIME_ZONE" env-default:"UTC"`
}

type Notify struct {
	Queue string `yaml:"queue" env:"NOTIFICATION_QUEUE"`
}

type Attachment struct {
	Dir     string `yaml:"dir" env:"ATTACHMENTS_DIR" env-default:"./data/attachments"`
	MaxSize int64  `yaml:"max_size" env:"ATTACHMENTS_MAX_SIZE" env-default:"10485760"`
}

// Load reads the optional YAML file at path and then the environment. A
// missing file falls back to the environment alone.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("read env: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		var pe *os.PathError
		if !errors.As(err, &pe) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("read env: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendTables:
		if c.Storage.ConnectionString == "" {
			return errors.New("missing STORAGE_CONNECTION_STRING")
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("missing DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Reminder.Tolerance < c.Reminder.Interval {
		return fmt.Errorf("reminder tolerance %s is shorter than interval %s", c.Reminder.Tolerance, c.Reminder.Interval)
	}
	if _, err := c.Reminder.Location(); err != nil {
		return err
	}
	if c.Notify.Queue != "" && c.Storage.ConnectionString == "" {
		return errors.New("NOTIFICATION_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	if c.Auth.LocalMode {
		if c.Auth.LocalSecret == "" {
			return errors.New("missing LOCAL_AUTH_SECRET")
		}
	} else if c.Auth.Domain == "" || c.Auth.Audience == "" {
		return errors.New("missing Auth0 config")
	}
	return nil
}

func (r Reminder) Location() (*time.Location, error) {
	if r.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_TIME_ZONE: %w", err)
	}
	return loc, nil
}

// RedisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func (r Redis) RedisOptions() (*redis.Options, error) {
	if r.ConnectionString == "" {
		return nil, errors.New("missing redis config")
	}
	opts, err := redis.ParseURL(r.ConnectionString)
	if err == nil {
		return opts, nil
	}
	parts := strings.Split(r.ConnectionString, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
