package config

import (
	"context"
	"errors"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
	} `mapstructure:"OTEL"`
	Consul struct {
		Addr        string `mapstructure:"ADDR"`
		ServiceHost string `mapstructure:"SERVICE_HOST"`
	} `mapstructure:"CONSUL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Session struct {
		Name   string        `mapstructure:"NAME"`
		Secret string        `mapstructure:"SECRET"`
		TTL    time.Duration `mapstructure:"TTL"`
	} `mapstructure:"SESSION"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
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
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	License struct {
		TrialDays              int           `mapstructure:"TRIAL_DAYS"`
		DefaultTermDays        int           `mapstructure:"DEFAULT_TERM_DAYS"`
		DefaultGracePeriodDays int           `mapstructure:"DEFAULT_GRACE_PERIOD_DAYS"`
		WarnWindow             time.Duration `mapstructure:"WARN_WINDOW"`
	} `mapstructure:"LICENSE"`
	Gate struct {
		ExemptPaths      []string `mapstructure:"EXEMPT_PATHS"`
		NotFoundPath     string   `mapstructure:"NOT_FOUND_PATH"`
		ErrorPath        string   `mapstructure:"ERROR_PATH"`
		SuspendOnExpiry  bool     `mapstructure:"SUSPEND_ON_EXPIRY"`
		TenantPathPrefix string   `mapstructure:"TENANT_PATH_PREFIX"`
	} `mapstructure:"GATE"`
	Reminder struct {
		CronSecret         string        `mapstructure:"CRON_SECRET"`
		HorizonDays        int           `mapstructure:"HORIZON_DAYS"`
		MaxGracePeriodDays int           `mapstructure:"MAX_GRACE_PERIOD_DAYS"`
		RetentionDays      int           `mapstructure:"RETENTION_DAYS"`
		BatchSize          int           `mapstructure:"BATCH_SIZE"`
		Concurrency        int           `mapstructure:"CONCURRENCY"`
		SendSchedule       string        `mapstructure:"SEND_SCHEDULE"`
		CleanupSchedule    string        `mapstructure:"CLEANUP_SCHEDULE"`
		SendTimeout        time.Duration `mapstructure:"SEND_TIMEOUT"`
		Filter             string        `mapstructure:"FILTER"` // CEL over tenant, license, threshold, days
	} `mapstructure:"REMINDER"`
	Notification struct {
		Driver     string        `mapstructure:"DRIVER"` // log | webhook
		WebhookURL string        `mapstructure:"WEBHOOK_URL"`
		Token      string        `mapstructure:"TOKEN"`
		Timeout    time.Duration `mapstructure:"TIMEOUT"`
		RetryCount int           `mapstructure:"RETRY_COUNT"`
	} `mapstructure:"NOTIFICATION"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "licensing")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("SESSION.NAME", "sb_session")
	v.SetDefault("SESSION.TTL", 12*time.Hour)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("LICENSE.TRIAL_DAYS", 14)
	v.SetDefault("LICENSE.DEFAULT_TERM_DAYS", 365)
	v.SetDefault("LICENSE.DEFAULT_GRACE_PERIOD_DAYS", 7)
	v.SetDefault("LICENSE.WARN_WINDOW", 7*24*time.Hour)
	v.SetDefault("GATE.NOT_FOUND_PATH", "/tenant-not-found")
	v.SetDefault("GATE.ERROR_PATH", "/unavailable")
	v.SetDefault("GATE.TENANT_PATH_PREFIX", "/t")
	v.SetDefault("REMINDER.HORIZON_DAYS", 30)
	v.SetDefault("REMINDER.MAX_GRACE_PERIOD_DAYS", 30)
	v.SetDefault("REMINDER.RETENTION_DAYS", 90)
	v.SetDefault("REMINDER.BATCH_SIZE", 250)
	v.SetDefault("REMINDER.CONCURRENCY", 8)
	v.SetDefault("REMINDER.SEND_SCHEDULE", "@hourly")
	v.SetDefault("REMINDER.CLEANUP_SCHEDULE", "@daily")
	v.SetDefault("REMINDER.SEND_TIMEOUT", 10*time.Second)
	v.SetDefault("NOTIFICATION.DRIVER", "log")
	v.SetDefault("NOTIFICATION.TIMEOUT", 10*time.Second)
	v.SetDefault("NOTIFICATION.RETRY_COUNT", 2)
}

func LoadConfig(p Params) *Config {
	setDefaults(config)

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()
	bindEnvs(config, reflect.TypeOf(Config{}), "")

	if err := config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Error("failed to read config", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Warn("config file not found, using defaults and environment")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		applySecrets(p.Vault, &cfg)
	}

	return &cfg
}

func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	setDefaults(config)
	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}
	applySecrets(p.Vault, &cfg)
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				zap.L().Error("unable to unmarshal remote config", zap.Error(err))
				continue
			}
			applySecrets(p.Vault, &newcfg)
			configHolder.Store(&newcfg)
		}
	}()

	return &cfg
}

// bindEnvs registers every mapstructure key so Unmarshal sees environment
// values for keys that have neither a default nor a config file entry.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Current returns the latest remote config snapshot, or nil when the remote
// provider is not in use.
func Current() *Config {
	cfg, _ := configHolder.Load().(*Config)
	return cfg
}

func applySecrets(client *vault.Client, cfg *Config) {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	cfg.Database.User = get("postgres_user")
	cfg.Database.Password = get("postgres_password")
	cfg.Redis.Password = get("redis_password")
	cfg.Session.Secret = get("session_secret")
	cfg.Reminder.CronSecret = get("cron_secret")
	cfg.Notification.Token = get("notification_token")
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key")
}
