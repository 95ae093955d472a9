// Command heapprobe prepares a fixture table, drives it through update
// scenarios and reports how PostgreSQL prunes its heap page.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/heapprobe/pkg/accounts"
	"github.com/grafana/heapprobe/pkg/experiment"
	"github.com/grafana/heapprobe/pkg/heapinspect"
	"github.com/grafana/heapprobe/pkg/session"
	util_log "github.com/grafana/heapprobe/pkg/util/log"
)

func main() {
	if _, err := util_log.InitLogger("info", "logfmt", os.Stderr); err != nil {
		exitWithErr(err)
	}

	app := kingpin.New("heapprobe", "Observe how PostgreSQL fills and prunes a heap page.")
	app.HelpFlag.Short('h')
	flags := registerConfigFlags(app)

	addPrepareCommand(app, flags)
	addResetCommand(app, flags)
	addInspectCommand(app, flags)
	addCalibrateCommand(app, flags)
	addScenariosCommand(app, flags)
	addRunCommand(app, flags)

	if _, err := app.Parse(os.Args[1:]); err != nil {
		exitWithErr(err)
	}
}

func exitWithErr(err error) {
	level.Error(util_log.Logger).Log("msg", "heapprobe failed", "err", err)
	os.Exit(1)
}

// probe is what a command needs once configuration is loaded.
type probe struct {
	cfg      Config
	logger   log.Logger
	pool     *pgxpool.Pool
	registry *prometheus.Registry
	metrics  *heapinspect.Metrics
}

// setup loads configuration, initialises logging and connects to the server.
// The returned context is cancelled on SIGINT and SIGTERM.
func setup(flags *configFlags, extra ...func(*Config)) (context.Context, *probe, func(), error) {
	c, err := flags.load(extra...)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := util_log.InitLogger(c.LogLevel, c.LogFormat, os.Stderr)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	pool, err := session.Open(ctx, c.Postgres, logger)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}

	registry := prometheus.NewRegistry()
	a := &probe{
		cfg:      c,
		logger:   logger,
		pool:     pool,
		registry: registry,
		metrics:  heapinspect.NewMetrics(registry),
	}
	return ctx, a, func() {
		pool.Close()
		stop()
	}, nil
}

func (a *probe) schema() *accounts.Schema {
	return accounts.NewSchema(a.pool, a.logger)
}

func (a *probe) store() *accounts.Store {
	return accounts.NewStore(a.pool, a.logger)
}

func (a *probe) inspector() *heapinspect.Inspector {
	return heapinspect.New(a.pool, a.metrics, a.logger)
}

func (a *probe) env() (experiment.Env, func() error) {
	return experiment.NewPostgresEnv(a.pool, a.metrics, os.Stdin, os.Stdout, a.logger)
}
