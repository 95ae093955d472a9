package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/heapprobe/pkg/accounts"
	"github.com/grafana/heapprobe/pkg/experiment"
	"github.com/grafana/heapprobe/pkg/heapinspect"
)

// prepareCommand installs pageinspect and creates the fixture table when it
// does not exist yet.
type prepareCommand struct {
	flags *configFlags
}

func (cmd *prepareCommand) run(_ *kingpin.ParseContext) error {
	ctx, a, done, err := setup(cmd.flags)
	if err != nil {
		return err
	}
	defer done()

	if err := a.inspector().EnsureExtension(ctx); err != nil {
		return err
	}
	exists, err := a.store().TableExists(ctx, accounts.TableName)
	if err != nil {
		return err
	}
	if exists {
		fmt.Printf("fixture table %s already exists\n", accounts.TableName)
		return nil
	}

	schema := a.schema()
	defer func() { _ = schema.Close() }()
	if err := schema.Reset(ctx); err != nil {
		return err
	}
	fmt.Printf("created fixture table %s\n", accounts.TableName)
	return nil
}

func addPrepareCommand(app *kingpin.Application, flags *configFlags) {
	cmd := &prepareCommand{flags: flags}
	app.Command("prepare", "Install pageinspect and create the fixture table if it is missing.").Action(cmd.run)
}

// resetCommand drops and recreates the fixture table.
type resetCommand struct {
	flags *configFlags
}

func (cmd *resetCommand) run(_ *kingpin.ParseContext) error {
	ctx, a, done, err := setup(cmd.flags)
	if err != nil {
		return err
	}
	defer done()

	schema := a.schema()
	defer func() { _ = schema.Close() }()
	if err := schema.Reset(ctx); err != nil {
		return err
	}
	fmt.Printf("reset fixture table %s\n", accounts.TableName)
	return nil
}

func addResetCommand(app *kingpin.Application, flags *configFlags) {
	cmd := &resetCommand{flags: flags}
	app.Command("reset", "Drop and recreate the fixture table.").Action(cmd.run)
}

// inspectCommand prints every line pointer of one page.
type inspectCommand struct {
	flags       *configFlags
	page        *uint
	textfile    *string
	pageWasSet  bool
	showRecords bool
}

func (cmd *inspectCommand) run(_ *kingpin.ParseContext) error {
	ctx, a, done, err := setup(cmd.flags, func(c *Config) {
		if cmd.pageWasSet {
			c.Experiment.Page = *cmd.page
		}
	})
	if err != nil {
		return err
	}
	defer done()

	inspector := a.inspector()
	relation := a.cfg.Experiment.Relation
	snap, err := inspector.Snapshot(ctx, relation, uint32(a.cfg.Experiment.Page))
	if err != nil {
		return err
	}
	pages, err := inspector.PageCount(ctx, relation)
	if err != nil {
		return err
	}

	printSnapshot(os.Stdout, snap, pages, cmd.showRecords)

	if *cmd.textfile != "" {
		if err := prometheus.WriteToTextfile(*cmd.textfile, a.registry); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		level.Info(a.logger).Log("msg", "wrote metrics", "path", *cmd.textfile)
	}
	return nil
}

func addInspectCommand(app *kingpin.Application, flags *configFlags) {
	cmd := &inspectCommand{flags: flags}
	inspect := app.Command("inspect", "Print the line pointers of a heap page.").Action(cmd.run)
	cmd.page = inspect.Flag("page", "Page to inspect.").IsSetByUser(&cmd.pageWasSet).Uint()
	cmd.textfile = inspect.Flag("metrics.textfile", "Write inspection metrics to this file in the text exposition format.").String()
	inspect.Flag("records", "Print one line per line pointer.").Default("true").BoolVar(&cmd.showRecords)
}

// calibrateCommand measures the page capacity of the server.
type calibrateCommand struct {
	flags *configFlags
}

func (cmd *calibrateCommand) run(_ *kingpin.ParseContext) error {
	ctx, a, done, err := setup(cmd.flags)
	if err != nil {
		return err
	}
	defer done()

	env, closeEnv := a.env()
	defer func() { _ = closeEnv() }()

	t, err := experiment.Calibrate(ctx, a.cfg.Experiment, env, a.logger)
	if err != nil {
		return err
	}
	color.New(color.Bold).Printf("page capacity: %d line pointers\n", t.PageCapacity)
	fmt.Printf("set --experiment.page-capacity=%d to skip calibration\n", t.PageCapacity)
	return nil
}

func addCalibrateCommand(app *kingpin.Application, flags *configFlags) {
	cmd := &calibrateCommand{flags: flags}
	app.Command("calibrate", "Measure how many line pointers a page holds before it is pruned.").Action(cmd.run)
}

// scenariosCommand lists the built-in scenarios without connecting.
type scenariosCommand struct {
	flags *configFlags
	steps bool
}

func (cmd *scenariosCommand) run(_ *kingpin.ParseContext) error {
	c, err := cmd.flags.load()
	if err != nil {
		return err
	}

	t := experiment.Thresholds{PageCapacity: c.Experiment.PageCapacity}
	if t.PageCapacity == 0 {
		t.PageCapacity = experiment.MinPageCapacity
	}
	scenarios := experiment.Builtin(c.Experiment, t)
	printScenarios(os.Stdout, scenarios, cmd.steps)
	if cmd.steps && c.Experiment.PageCapacity == 0 {
		fmt.Printf("\nsteps shown for a capacity of %d; set --experiment.page-capacity or run calibrate\n", t.PageCapacity)
	}
	return nil
}

func addScenariosCommand(app *kingpin.Application, flags *configFlags) {
	cmd := &scenariosCommand{flags: flags}
	scenarios := app.Command("scenarios", "List the built-in scenarios.").Action(cmd.run)
	scenarios.Flag("steps", "Print the steps of every scenario.").BoolVar(&cmd.steps)
}

// runCommand runs scenarios against the server.
type runCommand struct {
	flags       *configFlags
	names       *[]string
	interactive bool
	wasSet      bool
}

func (cmd *runCommand) run(_ *kingpin.ParseContext) error {
	ctx, a, done, err := setup(cmd.flags, func(c *Config) {
		if cmd.wasSet {
			c.Experiment.Interactive = cmd.interactive
		}
	})
	if err != nil {
		return err
	}
	defer done()

	// Every line logged by one invocation carries the same run id.
	a.logger = log.With(a.logger, "run_id", uuid.NewString())
	env, closeEnv := a.env()
	defer func() { _ = closeEnv() }()

	t, err := experiment.ResolveThresholds(ctx, a.cfg.Experiment, env, a.logger)
	if err != nil {
		return err
	}
	scenarios, err := experiment.Select(experiment.Builtin(a.cfg.Experiment, t), *cmd.names...)
	if err != nil {
		return err
	}

	runner := experiment.NewRunner(a.cfg.Experiment, env, a.logger)
	runner.OnSnapshot = func(_ string, step experiment.Step, snap heapinspect.Snapshot) {
		printObservation(os.Stdout, step, snap)
	}

	start := time.Now()
	for _, sc := range scenarios {
		color.New(color.Bold).Printf("%s (page capacity %d)\n", sc.Name, t.PageCapacity)
		if err := runner.Run(ctx, sc); err != nil {
			color.New(color.FgRed, color.Bold).Printf("FAIL %s\n", sc.Name)
			return err
		}
		color.New(color.FgGreen, color.Bold).Printf("PASS %s\n", sc.Name)
	}
	fmt.Printf("%d scenario(s) passed in %s\n", len(scenarios), time.Since(start).Round(time.Millisecond))
	return nil
}

func addRunCommand(app *kingpin.Application, flags *configFlags) {
	cmd := &runCommand{flags: flags}
	run := app.Command("run", "Run scenarios, all of them when none are named.").Action(cmd.run)
	cmd.names = run.Arg("scenario", "Scenarios to run.").Strings()
	run.Flag("interactive", "Wait for enter after every page snapshot.").IsSetByUser(&cmd.wasSet).BoolVar(&cmd.interactive)
}
