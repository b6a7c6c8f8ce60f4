package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	internalhttp "github.com/EternisAI/provider-ca/internal/api/http"
	"github.com/EternisAI/provider-ca/internal/auth"
	"github.com/EternisAI/provider-ca/internal/cert"
	"github.com/EternisAI/provider-ca/internal/confirmation"
	"github.com/EternisAI/provider-ca/internal/engine"
	grpcclient "github.com/EternisAI/provider-ca/internal/grpc/client"
	grpcserver "github.com/EternisAI/provider-ca/internal/grpc/server"
	"github.com/EternisAI/provider-ca/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log          LogConfig           `mapstructure:"log"`
	Http         internalhttp.Config `mapstructure:"http"`
	Grpc         grpcserver.Config   `mapstructure:"grpc"`
	Health       HealthConfig        `mapstructure:"health"`
	Auth         auth.Config         `mapstructure:"auth"`
	Storage      store.Config        `mapstructure:"storage"`
	Confirmation confirmation.Config `mapstructure:"confirmation"`
	CA           cert.Config         `mapstructure:"ca"`
	Engine       engine.Config       `mapstructure:"engine"`
	Healthcheck  grpcclient.Config   `mapstructure:"healthcheck"`
}

type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

var config Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", LOG_LEVEL_INFO)
	v.SetDefault("http.port", 8080)
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("grpc.tls.client_auth", "none")
	v.SetDefault("health.interval", 15*time.Second)
	v.SetDefault("health.timeout", 2*time.Second)
	v.SetDefault("storage.driver", store.DriverMemory)
	v.SetDefault("storage.operation_ttl", 24*time.Hour)
	v.SetDefault("storage.cleanup_interval", time.Minute)
	v.SetDefault("confirmation.challenge_ttl", 10*time.Minute)
	v.SetDefault("confirmation.max_code_attempts", 5)
	v.SetDefault("ca.dir", "./certs")
	v.SetDefault("engine.timeout", 30*time.Second)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("confirmation.webhook.timeout", 5*time.Second)
	v.SetDefault("confirmation.webhook.max_retries", 3)
	v.SetDefault("healthcheck.service", grpcserver.Service)
	v.SetDefault("healthcheck.timeout", 3*time.Second)
}

func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config

	v.SetConfigName("application")
	v.AddConfigPath(".")
	v.AddConfigPath("./cmd/provider-ca-server")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	_ = v.BindEnv("confirmation.link_secret", "CONFIRMATION_LINK_SECRET")
	_ = v.BindEnv("confirmation.webhook.secret", "CONFIRMATION_WEBHOOK_SECRET")
	_ = v.BindEnv("storage.postgres.url", "DATABASE_URL")
	_ = v.BindEnv("storage.redis.password", "REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Warn("No application.yml found, using defaults and environment")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func InitConfig() {
	_ = godotenv.Load()

	var err error
	config, err = loadConfig(viper.GetViper())
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(redacted(config), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

// redacted returns a copy safe to print.
func redacted(cfg Config) Config {
	const mask = "******"
	if cfg.Confirmation.LinkSecret != "" {
		cfg.Confirmation.LinkSecret = mask
	}
	if cfg.Confirmation.Webhook.Secret != "" {
		cfg.Confirmation.Webhook.Secret = mask
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = mask
	}
	if cfg.Storage.Postgres.URL != "" {
		cfg.Storage.Postgres.URL = mask
	}
	issuers := make([]auth.IssuerConfig, len(cfg.Auth.Issuers))
	for i, ic := range cfg.Auth.Issuers {
		if ic.Key != "" {
			ic.Key = mask
		}
		issuers[i] = ic
	}
	cfg.Auth.Issuers = issuers
	return cfg
}
