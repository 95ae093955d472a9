package main

import (
	"flag"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"

	"github.com/grafana/heapprobe/pkg/cfg"
	"github.com/grafana/heapprobe/pkg/experiment"
	"github.com/grafana/heapprobe/pkg/session"
)

// Config is the root configuration of heapprobe.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Postgres   session.Config    `yaml:"postgres"`
	Experiment experiment.Config `yaml:"experiment"`
}

func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.LogLevel, "log.level", "info", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	f.StringVar(&c.LogFormat, "log.format", "logfmt", "Output log messages in the given format. Valid formats: [logfmt, json]")
	c.Postgres.RegisterFlags(f)
	c.Experiment.RegisterFlags(f)
}

func (c *Config) Validate() error {
	if c.LogFormat != "logfmt" && c.LogFormat != "json" {
		return errors.Errorf("invalid log format %q", c.LogFormat)
	}
	if err := c.Postgres.Validate(); err != nil {
		return errors.Wrap(err, "invalid postgres config")
	}
	if err := c.Experiment.Validate(); err != nil {
		return errors.Wrap(err, "invalid experiment config")
	}
	return nil
}

// configFlags are the global flags shared by every command. Values given on
// the command line win over the config file.
type configFlags struct {
	file      string
	expandEnv bool

	overrides []func(*Config)
}

func registerConfigFlags(app *kingpin.Application) *configFlags {
	f := &configFlags{}
	app.Flag("config.file", "YAML file to load configuration from.").Envar("HEAPPROBE_CONFIG_FILE").StringVar(&f.file)
	app.Flag("config.expand-env", "Expand ${VAR} references in the config file.").BoolVar(&f.expandEnv)

	f.stringFlag(app.Flag("log.level", "Log level: debug, info, warn, error."), func(c *Config, v string) { c.LogLevel = v })
	f.stringFlag(app.Flag("log.format", "Log format: logfmt, json."), func(c *Config, v string) { c.LogFormat = v })
	f.stringFlag(app.Flag("postgres.dsn", "Full PostgreSQL connection string."), func(c *Config, v string) { c.Postgres.DSN = v })
	f.stringFlag(app.Flag("postgres.host", "PostgreSQL host."), func(c *Config, v string) { c.Postgres.Host = v })
	f.intFlag(app.Flag("postgres.port", "PostgreSQL port."), func(c *Config, v int) { c.Postgres.Port = v })
	f.stringFlag(app.Flag("postgres.user", "PostgreSQL user. The password is read from "+session.PasswordEnv+"."), func(c *Config, v string) { c.Postgres.User = v })
	f.stringFlag(app.Flag("postgres.database", "Database holding the fixture table."), func(c *Config, v string) { c.Postgres.Database = v })
	f.durationFlag(app.Flag("postgres.connect-timeout", "Timeout for establishing a connection."), func(c *Config, v time.Duration) { c.Postgres.ConnectTimeout = v })
	f.stringFlag(app.Flag("experiment.relation", "Relation whose heap page is inspected."), func(c *Config, v string) { c.Experiment.Relation = v })
	f.intFlag(app.Flag("experiment.page-capacity", "Line pointers a page holds before it is pruned. 0 measures it."), func(c *Config, v int) { c.Experiment.PageCapacity = v })
	return f
}

func (f *configFlags) stringFlag(fc *kingpin.FlagClause, apply func(*Config, string)) {
	var (
		v   string
		set bool
	)
	fc.IsSetByUser(&set).StringVar(&v)
	f.overrides = append(f.overrides, func(c *Config) {
		if set {
			apply(c, v)
		}
	})
}

func (f *configFlags) intFlag(fc *kingpin.FlagClause, apply func(*Config, int)) {
	var (
		v   int
		set bool
	)
	fc.IsSetByUser(&set).IntVar(&v)
	f.overrides = append(f.overrides, func(c *Config) {
		if set {
			apply(c, v)
		}
	})
}

func (f *configFlags) durationFlag(fc *kingpin.FlagClause, apply func(*Config, time.Duration)) {
	var (
		v   time.Duration
		set bool
	)
	fc.IsSetByUser(&set).DurationVar(&v)
	f.overrides = append(f.overrides, func(c *Config) {
		if set {
			apply(c, v)
		}
	})
}

// override is a config source applying the flags given on the command line.
func (f *configFlags) override(extra ...func(*Config)) cfg.Source {
	return func(dst interface{}) error {
		c, ok := dst.(*Config)
		if !ok {
			return errors.Errorf("unexpected config type %T", dst)
		}
		for _, apply := range f.overrides {
			apply(c)
		}
		for _, apply := range extra {
			apply(c)
		}
		return nil
	}
}

// load builds the configuration from defaults, the config file and flags.
func (f *configFlags) load(extra ...func(*Config)) (Config, error) {
	var c Config
	if err := cfg.Parse(&c, f.file, f.expandEnv, f.override(extra...)); err != nil {
		return Config{}, err
	}
	return c, nil
}
