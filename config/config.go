package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MQConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// MailingConfig controls the dispatcher itself. Duration fields are
// time.ParseDuration strings.
type MailingConfig struct {
	From         string `yaml:"from"`
	CacheEnabled bool   `yaml:"cache_enabled"`
	CacheTTL     string `yaml:"cache_ttl"`
	SendTimeout  string `yaml:"send_timeout"`
	CronSpec     string `yaml:"cron_spec"`
	LockTTL      string `yaml:"lock_ttl"`
}

type MetricsConfig struct {
	Port string `yaml:"port"`
}

type Config struct {
	DB      DBConfig      `yaml:"db"`
	Redis   RedisConfig   `yaml:"redis"`
	MQ      MQConfig      `yaml:"mq"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Mailing MailingConfig `yaml:"mailing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Load reads the yaml config file (path from MAILING_CONFIG, default
// config.yaml) and applies environment variable overrides on top.
func Load() *Config {
	path := os.Getenv("MAILING_CONFIG")
	if path == "" {
		path = "config.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode %s: %v", path, err)
	}

	overrideFromEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTP.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if user := os.Getenv("SMTP_USER"); user != "" {
		cfg.SMTP.User = user
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.SMTP.Password = password
	}

	if from := os.Getenv("MAIL_FROM"); from != "" {
		cfg.Mailing.From = from
	}

	if port := os.Getenv("METRICS_PORT"); port != "" {
		cfg.Metrics.Port = port
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Mailing.CacheTTL == "" {
		cfg.Mailing.CacheTTL = "60s"
	}
	if cfg.Mailing.SendTimeout == "" {
		cfg.Mailing.SendTimeout = "30s"
	}
	if cfg.Mailing.CronSpec == "" {
		cfg.Mailing.CronSpec = "@every 1m"
	}
	if cfg.Mailing.LockTTL == "" {
		cfg.Mailing.LockTTL = "50s"
	}
	if cfg.Metrics.Port == "" {
		cfg.Metrics.Port = "9090"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
}
