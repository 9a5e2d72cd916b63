package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string            `mapstructure:"ADDR"`
		Insecure bool              `mapstructure:"INSECURE"`
		Headers  map[string]string `mapstructure:"HEADERS"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
	} `mapstructure:"MINIO"`
	Auth struct {
		JWTSecret string `mapstructure:"JWT_SECRET"`
		Issuer    string `mapstructure:"ISSUER"`
	} `mapstructure:"AUTH"`
	Capability struct {
		Secret string        `mapstructure:"SECRET"`
		TTL    time.Duration `mapstructure:"TTL"`
	} `mapstructure:"CAPABILITY"`
	PayPal struct {
		Mode         string        `mapstructure:"MODE"`
		ClientID     string        `mapstructure:"CLIENT_ID"`
		ClientSecret string        `mapstructure:"CLIENT_SECRET"`
		WebhookID    string        `mapstructure:"WEBHOOK_ID"`
		BaseURL      string        `mapstructure:"BASE_URL"`
		Timeout      time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"PAYPAL"`
	ManualOrder struct {
		ReceiverHandle string `mapstructure:"RECEIVER_HANDLE"`
	} `mapstructure:"MANUAL_ORDER"`
	Payout struct {
		StuckAfter       time.Duration `mapstructure:"STUCK_AFTER"`
		ScheduleLocation string        `mapstructure:"SCHEDULE_LOCATION"`
	} `mapstructure:"PAYOUT"`
	Webhook struct {
		Async bool `mapstructure:"ASYNC"`
	} `mapstructure:"WEBHOOK"`
	Worker struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"WORKER"`
	RateLimit struct {
		RPS   float64 `mapstructure:"RPS"`
		Burst int     `mapstructure:"BURST"`
	} `mapstructure:"RATE_LIMIT"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults() {
	config.SetDefault("APP_NAME", "coin-settlement")
	config.SetDefault("NODE_ID", 1)
	config.SetDefault("HTTP_SERVER.ADDR", "8080")
	config.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	config.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 30*time.Second)
	config.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	config.SetDefault("GRPC_SERVER.ADDR", "9090")
	config.SetDefault("DATABASE.TYPE", "postgres")
	config.SetDefault("OTEL.INSECURE", true)
	config.SetDefault("CAPABILITY.TTL", 15*time.Minute)
	config.SetDefault("PAYPAL.MODE", "sandbox")
	config.SetDefault("PAYPAL.TIMEOUT", 30*time.Second)
	config.SetDefault("MANUAL_ORDER.RECEIVER_HANDLE", "$YourCashAppHandle")
	config.SetDefault("PAYOUT.STUCK_AFTER", time.Hour)
	config.SetDefault("PAYOUT.SCHEDULE_LOCATION", "UTC")
	config.SetDefault("WORKER.CONCURRENCY", 10)
	config.SetDefault("RATE_LIMIT.RPS", 5)
	config.SetDefault("RATE_LIMIT.BURST", 10)
}

func LoadConfig(p Params) *Config {
	setDefaults()

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config file not found, using environment only")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := overlaySecrets(context.Background(), p.Vault, &cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	return &cfg
}

// overlaySecrets replaces credentials with the values stored under
// secret/<APP_ENV>. Keys missing from vault keep their file/env value.
func overlaySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	set := func(dst *string, key string) {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			*dst = val
		}
	}

	set(&cfg.Database.User, "database_user")
	set(&cfg.Database.Password, "database_password")
	set(&cfg.Redis.Password, "redis_password")
	set(&cfg.Flagsmith.ApiKey, "flagsmith_api_key")
	set(&cfg.Minio.SecretKey, "minio_secret_key")
	set(&cfg.Auth.JWTSecret, "jwt_secret")
	set(&cfg.Capability.Secret, "capability_secret")
	set(&cfg.PayPal.ClientID, "paypal_client_id")
	set(&cfg.PayPal.ClientSecret, "paypal_client_secret")
	set(&cfg.PayPal.WebhookID, "paypal_webhook_id")

	return nil
}
