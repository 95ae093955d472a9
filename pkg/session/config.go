package session

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PasswordEnv names the environment variable the database password is read
// from. Passwords are never accepted through flags or config files.
const PasswordEnv = "HEAPPROBE_DB_PASSWORD"

const (
	DefaultHost           = "localhost"
	DefaultPort           = 5432
	DefaultUser           = "postgres"
	DefaultDatabase       = "postgres"
	DefaultMaxConnections = 4
	DefaultConnectTimeout = 10 * time.Second
)

// Config describes how to reach the PostgreSQL instance under observation.
type Config struct {
	// DSN is a full libpq connection string or URL. When set it takes
	// precedence over the individual fields below.
	DSN string `yaml:"dsn"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	// ApplicationName is reported in pg_stat_activity so experiment sessions
	// are easy to spot.
	ApplicationName string `yaml:"application_name"`

	// MaxConnections bounds the pool. Experiments that hold a concurrent
	// reader need at least two.
	MaxConnections int           `yaml:"max_connections"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("postgres.", f)
}

func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.DSN, prefix+"dsn", "", "Full connection string. Overrides host, port, user, database and sslmode.")
	f.StringVar(&cfg.Host, prefix+"host", DefaultHost, "PostgreSQL host.")
	f.IntVar(&cfg.Port, prefix+"port", DefaultPort, "PostgreSQL port.")
	f.StringVar(&cfg.User, prefix+"user", DefaultUser, "PostgreSQL user. The password is read from "+PasswordEnv+".")
	f.StringVar(&cfg.Database, prefix+"database", DefaultDatabase, "Database holding the fixture table.")
	f.StringVar(&cfg.SSLMode, prefix+"sslmode", "disable", "libpq sslmode.")
	f.StringVar(&cfg.ApplicationName, prefix+"application-name", "heapprobe", "application_name reported by every session.")
	f.IntVar(&cfg.MaxConnections, prefix+"max-connections", DefaultMaxConnections, "Maximum number of pooled connections.")
	f.DurationVar(&cfg.ConnectTimeout, prefix+"connect-timeout", DefaultConnectTimeout, "Timeout for establishing a connection.")
}

func (cfg *Config) Validate() error {
	if cfg.DSN == "" {
		if cfg.Host == "" {
			return errors.New("postgres host must be set")
		}
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return fmt.Errorf("invalid postgres port %d", cfg.Port)
		}
		if cfg.User == "" {
			return errors.New("postgres user must be set")
		}
		if cfg.Database == "" {
			return errors.New("postgres database must be set")
		}
	}
	if cfg.MaxConnections < 2 {
		return errors.New("max-connections must be at least 2")
	}
	if cfg.ConnectTimeout < 0 {
		return errors.New("connect-timeout must not be negative")
	}
	return nil
}

// ConnString renders the config as a libpq keyword/value string. password is
// only included when non-empty.
func (cfg *Config) ConnString(password string) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	var b strings.Builder
	add := func(k, v string) {
		if v == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quote(v))
	}
	add("host", cfg.Host)
	add("port", strconv.Itoa(cfg.Port))
	add("user", cfg.User)
	add("password", password)
	add("dbname", cfg.Database)
	add("sslmode", cfg.SSLMode)
	add("application_name", cfg.ApplicationName)
	if cfg.ConnectTimeout > 0 {
		secs := int(cfg.ConnectTimeout.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		add("connect_timeout", strconv.Itoa(secs))
	}
	return b.String()
}

// quote applies libpq keyword/value quoting when v contains characters that
// would otherwise end the value.
func quote(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
