package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	AuthModeFirebase = "firebase"
	AuthModeHeader   = "header"
)

type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	DBDriver   string `env:"DB_DRIVER" envDefault:"mysql"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBHost     string `env:"DB_HOST"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName     string `env:"DB_NAME"`
	DBPort     string `env:"DB_PORT" envDefault:"3306"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"messaging.db"`

	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	AuthMode          string `env:"AUTH_MODE" envDefault:"firebase"`
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`

	StorageBucket        string        `env:"STORAGE_BUCKET"`
	StoragePublicBaseURL string        `env:"STORAGE_PUBLIC_BASE_URL"`
	CredentialsFile      string        `env:"GOOGLE_APPLICATION_CREDENTIALS"`
	ThumbnailURLTTL      time.Duration `env:"THUMBNAIL_URL_TTL" envDefault:"1h"`

	MessageMaxLength int `env:"MESSAGE_MAX_LENGTH" envDefault:"2000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	AllowedOriginSuffix string `env:"ALLOWED_ORIGIN_SUFFIX" envDefault:"vercel.app"`

	GitSHA    string `env:"GIT_SHA" envDefault:"dev"`
	BuildTime string `env:"BUILD_TIME"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements that env tags cannot express.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverMySQL:
		if c.DBUser == "" || c.DBName == "" {
			return errors.New("DB_USER and DB_NAME are required for mysql")
		}
		if c.DBHost == "" && c.InstanceConnectionName == "" {
			return errors.New("DB_HOST or INSTANCE_CONNECTION_NAME is required for mysql")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.AuthMode {
	case AuthModeFirebase:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required when AUTH_MODE=firebase")
		}
	case AuthModeHeader:
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}
	if c.MessageMaxLength <= 0 {
		return errors.New("MESSAGE_MAX_LENGTH must be positive")
	}
	return nil
}
