package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

const DefaultPath = "config/example.yaml"

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	HTTP struct {
		Addr string
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Ledger struct {
		LockTimeout time.Duration `mapstructure:"lock_timeout"`
	} `mapstructure:"ledger"`

	Kafka struct {
		Brokers []string
		Topic   string
	} `mapstructure:"kafka"`

	Tracing struct {
		Endpoint    string
		URLPath     string  `mapstructure:"url_path"`
		Insecure    bool
		SampleRatio float64 `mapstructure:"sample_ratio"`
	} `mapstructure:"tracing"`

	Reports struct {
		Driver string // fs | s3
		Dir    string
		S3     struct {
			Bucket          string
			Prefix          string
			Region          string
			Endpoint        string
			PathStyle       bool   `mapstructure:"path_style"`
			AccessKeyID     string `mapstructure:"access_key_id"`
			SecretAccessKey string `mapstructure:"secret_access_key"`
		} `mapstructure:"s3"`
	} `mapstructure:"reports"`
}

// Path — файл конфига: APP_CONFIG или DefaultPath.
func Path() string {
	if p := os.Getenv("APP_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load читает .env (если есть), затем YAML; APP_* из окружения перекрывают файл,
// например APP_POSTGRES_DSN или APP_LEDGER_LOCK_TIMEOUT.
func Load(path string) (Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("ledger.lock_timeout", 2*time.Second)
	v.SetDefault("kafka.topic", "coffee-stock.ledger")
	v.SetDefault("tracing.url_path", "/v1/traces")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("reports.driver", "fs")
	v.SetDefault("reports.dir", "./reports")

	// ключи без дефолта, которых может не быть в файле: иначе Unmarshal не увидит APP_*
	for _, k := range []string{
		"postgres.dsn",
		"tracing.endpoint",
		"tracing.insecure",
		"reports.s3.bucket",
		"reports.s3.prefix",
		"reports.s3.region",
		"reports.s3.endpoint",
		"reports.s3.path_style",
		"reports.s3.access_key_id",
		"reports.s3.secret_access_key",
	} {
		_ = v.BindEnv(k)
	}
}

func (c Config) validate() error {
	if c.Postgres.DSN == "" {
		return errors.New("config: postgres.dsn is required")
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("config: app.timezone: %w", err)
	}
	switch c.Reports.Driver {
	case "fs":
	case "s3":
		if c.Reports.S3.Bucket == "" {
			return errors.New("config: reports.s3.bucket is required for s3 driver")
		}
	default:
		return fmt.Errorf("config: unknown reports.driver %q", c.Reports.Driver)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("config: tracing.sample_ratio %v out of [0,1]", c.Tracing.SampleRatio)
	}
	return nil
}
