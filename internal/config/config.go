package config

import (
	"fmt"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port" validate:"min=1,max=65535"`
	CORS CORSConfig `mapstructure:"cors"`
	// UserHeader is the header an upstream authenticating proxy sets with the user ID.
	UserHeader string `mapstructure:"user_header" validate:"required"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string            `mapstructure:"driver" validate:"oneof=mysql postgres sqlite3"`
	DSN             string            `mapstructure:"dsn"`
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Database        string            `mapstructure:"database"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	TLS             bool              `mapstructure:"tls"`
	Params          map[string]string `mapstructure:"params"`
	Path            string            `mapstructure:"path" validate:"required_if=Driver sqlite3"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int               `mapstructure:"conn_max_lifetime_seconds"`
}

type CatalogConfig struct {
	// File is a YAML file with books and questions. It is always required for questions.
	File string `mapstructure:"file" validate:"required,file"`
	// BooksURL switches book metadata to a remote catalog service when set.
	BooksURL string `mapstructure:"books_url" validate:"omitempty,url"`
}

type EngineConfig struct {
	Cooldown      time.Duration `mapstructure:"cooldown" validate:"gt=0"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	TimeZone      string        `mapstructure:"time_zone" validate:"required"`
	RetryAttempts uint          `mapstructure:"retry_attempts" validate:"min=1,max=10"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type TasksConfig struct {
	Workers   int           `mapstructure:"workers" validate:"min=1"`
	QueueSize int           `mapstructure:"queue_size" validate:"min=1"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type SchedulerConfig struct {
	MonthlySweepInterval time.Duration `mapstructure:"monthly_sweep_interval" validate:"gt=0"`
	CachePurgeInterval   time.Duration `mapstructure:"cache_purge_interval" validate:"gt=0"`
}

// Location returns the time zone used to bucket validations into calendar dates.
func (c EngineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/readingquest")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.user_header", "X-User-Id")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "readingquest")
	v.SetDefault("database.username", "user")
	v.SetDefault("catalog.file", "catalog.yml")
	v.SetDefault("engine.cooldown", 10*time.Minute)
	v.SetDefault("engine.cache_ttl", 30*time.Second)
	v.SetDefault("engine.time_zone", "UTC")
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.retry_delay", 50*time.Millisecond)
	v.SetDefault("tasks.workers", 2)
	v.SetDefault("tasks.queue_size", 256)
	v.SetDefault("tasks.timeout", 10*time.Second)
	v.SetDefault("scheduler.monthly_sweep_interval", time.Hour)
	v.SetDefault("scheduler.cache_purge_interval", time.Minute)

	// Secrets are only read from the environment
	if err := v.BindEnv("database.password", "READINGQUEST_DB_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind READINGQUEST_DB_PASSWORD environment variable: %w", err)
	}
	if err := v.BindEnv("database.dsn", "READINGQUEST_DB_DSN"); err != nil {
		return nil, fmt.Errorf("failed to bind READINGQUEST_DB_DSN environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	if err := loader.validator.Struct(cfg); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}
	if _, err := cfg.Engine.Location(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
