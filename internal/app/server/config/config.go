package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"

	"keapsync/internal/domain/conflict"
	"keapsync/internal/domain/entity"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env      string
	DB       db
	Server   server
	Logger   logger
	Keap     keap
	Sync     syncer
	Ledger   ledger
	Policies *Policies

	v *viper.Viper
}

type db struct {
	Driver      string
	DatabaseURI string
	SQLitePath  string
	Migrations  string
}

type server struct {
	RunAddress   string
	APITokenHash string
}

type logger struct {
	LogLevel string
	File     string
}

type keap struct {
	BaseURL       string
	AccessToken   string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int
	PageSize      int
}

type syncer struct {
	Workers          int
	Interval         time.Duration
	EntityTypes      []string
	ActiveClientTags []string
}

type ledger struct {
	RetentionDays int
}

// Load читает .env, переменные окружения и (опционально) конфигурационный файл
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("skip .env: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	cfg := &Config{
		Env: v.GetString("app_env"),
		DB: db{
			Driver:      v.GetString("store_driver"),
			DatabaseURI: v.GetString("database_uri"),
			SQLitePath:  v.GetString("sqlite_path"),
			Migrations:  v.GetString("migrations_path"),
		},
		Server: server{
			RunAddress:   v.GetString("run_address"),
			APITokenHash: v.GetString("api_token_hash"),
		},
		Logger: logger{
			LogLevel: v.GetString("log_level"),
			File:     v.GetString("log_file"),
		},
		Keap: keap{
			BaseURL:       v.GetString("keap_base_url"),
			AccessToken:   v.GetString("keap_access_token"),
			WebhookSecret: v.GetString("keap_webhook_secret"),
			Timeout:       v.GetDuration("keap_timeout"),
			MaxRetries:    v.GetInt("keap_max_retries"),
			PageSize:      v.GetInt("keap_page_size"),
		},
		Sync: syncer{
			Workers:          v.GetInt("sync_workers"),
			Interval:         v.GetDuration("sync_interval"),
			EntityTypes:      splitList(v.GetStringSlice("sync_entity_types")),
			ActiveClientTags: splitList(v.GetStringSlice("sync_active_client_tags")),
		},
		Ledger: ledger{
			RetentionDays: v.GetInt("ledger_retention_days"),
		},
		v: v,
	}

	policies, err := readPolicies(v)
	if err != nil {
		return nil, err
	}
	cfg.Policies = NewPolicies(policies)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad как Load, но завершает процесс при ошибке
func MustLoad(cfgFile string) *Config {
	cfg, err := Load(cfgFile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("sqlite_path", "keapsync.db")
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("run_address", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("keap_base_url", "https://api.infusionsoft.com/crm/rest")
	v.SetDefault("keap_timeout", 15*time.Second)
	v.SetDefault("keap_max_retries", 3)
	v.SetDefault("keap_page_size", 100)
	v.SetDefault("sync_workers", 4)
	v.SetDefault("sync_interval", 15*time.Minute)
	v.SetDefault("sync_entity_types", []string{"all"})
	v.SetDefault("sync_active_client_tags", []string{"Active Client"})
	v.SetDefault("ledger_retention_days", 30)
	for _, t := range entity.Types {
		v.SetDefault("conflict.policy."+string(t), string(conflict.PolicyManual))
	}
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown app_env %q", c.Env)
	}
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURI == "" {
			return errors.New("database_uri is required for postgres driver")
		}
	case DriverSQLite:
		if c.DB.SQLitePath == "" {
			return errors.New("sqlite_path is required for sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store_driver %q", c.DB.Driver)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync_workers must be positive, got %d", c.Sync.Workers)
	}
	if c.Keap.PageSize <= 0 || c.Keap.PageSize > 1000 {
		return fmt.Errorf("keap_page_size must be within 1..1000, got %d", c.Keap.PageSize)
	}
	if _, err := c.EntityTypes(); err != nil {
		return err
	}
	return nil
}

// EntityTypes разворачивает sync_entity_types ("all" -> все типы в порядке зависимостей)
func (c *Config) EntityTypes() ([]entity.Type, error) {
	return entity.ParseTypes(c.Sync.EntityTypes)
}

func (c *Config) IsProd() bool  { return c.Env == EnvProd }
func (c *Config) IsLocal() bool { return c.Env == EnvLocal }

// WatchPolicies перечитывает политики конфликтов при изменении конфигурационного файла
func (c *Config) WatchPolicies(log *slog.Logger) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		policies, err := readPolicies(c.v)
		if err != nil {
			log.Warn("Ignoring conflict policy change", "file", e.Name, "error", err)
			return
		}
		c.Policies.Replace(policies)
		log.Info("Conflict policies reloaded", "file", e.Name)
	})
	c.v.WatchConfig()
}

func readPolicies(v *viper.Viper) (map[entity.Type]conflict.Policy, error) {
	out := make(map[entity.Type]conflict.Policy, len(entity.Types))
	for _, t := range entity.Types {
		p := conflict.Policy(v.GetString("conflict.policy." + string(t)))
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("conflict.policy.%s: %w", t, err)
		}
		out[t] = p
	}
	return out, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Policies таблица политик разрешения конфликтов, заменяемая на лету
type Policies struct {
	table atomic.Pointer[map[entity.Type]conflict.Policy]
}

func NewPolicies(table map[entity.Type]conflict.Policy) *Policies {
	p := &Policies{}
	p.Replace(table)
	return p
}

func (p *Policies) Replace(table map[entity.Type]conflict.Policy) {
	cp := make(map[entity.Type]conflict.Policy, len(table))
	for k, v := range table {
		cp[k] = v
	}
	p.table.Store(&cp)
}

// PolicyFor реализует conflict.PolicySource
func (p *Policies) PolicyFor(t entity.Type) conflict.Policy {
	table := p.table.Load()
	if table == nil {
		return conflict.PolicyManual
	}
	if policy, ok := (*table)[t]; ok {
		return policy
	}
	return conflict.PolicyManual
}
