package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/gnn-trainconf/internal/logging"
	"github.com/eugenenazirov/gnn-trainconf/internal/registry"
	"github.com/eugenenazirov/gnn-trainconf/internal/schedule"
	"github.com/eugenenazirov/gnn-trainconf/internal/trainconfig"
)

const (
	exitOK      = 0
	exitInvalid = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type cli struct {
	app      *kingpin.Application
	logLevel *string

	check struct {
		cmd        *kingpin.CmdClause
		file       *string
		checkPaths *bool
		resolve    *bool
		strict     *bool
		components *[]string
	}
	dump struct {
		cmd  *kingpin.CmdClause
		file *string
	}
	plan struct {
		cmd    *kingpin.CmdClause
		file   *string
		events *bool
		limit  *int
		format *string
	}
}

func newCLI(stderr io.Writer) *cli {
	c := &cli{}
	c.app = kingpin.New("trainconf", "Validate, normalise, and plan GNN training configuration documents")
	c.app.UsageWriter(stderr)
	c.app.ErrorWriter(stderr)
	c.app.Terminate(nil)
	c.logLevel = c.app.Flag("log-level", "Log level (debug, info, warn, error)").Default("warn").String()

	c.check.cmd = c.app.Command("check", "Validate a training configuration")
	c.check.file = c.check.cmd.Arg("file", "Path to the YAML document").Required().String()
	c.check.checkPaths = c.check.cmd.Flag("check-paths", "Verify that iotool.dataset.data_dirs exist").Bool()
	c.check.resolve = c.check.cmd.Flag("resolve", "Resolve component identifiers against the registry").Bool()
	c.check.strict = c.check.cmd.Flag("strict", "Require iotool.sampler.batch_size to equal iotool.batch_size").Bool()
	c.check.components = c.check.cmd.Flag("component", "Extra registry entry as kind:name (repeatable, implies --resolve)").Strings()

	c.dump.cmd = c.app.Command("dump", "Print the normalised document with defaults filled in")
	c.dump.file = c.dump.cmd.Arg("file", "Path to the YAML document").Required().String()

	c.plan.cmd = c.app.Command("plan", "Print the report and checkpoint schedule")
	c.plan.file = c.plan.cmd.Arg("file", "Path to the YAML document").Required().String()
	c.plan.events = c.plan.cmd.Flag("events", "List individual report and checkpoint events").Bool()
	c.plan.limit = c.plan.cmd.Flag("limit", "Maximum number of events to list").Default("100").Int()
	c.plan.format = c.plan.cmd.Flag("format", "Output format").Default("yaml").Enum("yaml", "json")
	return c
}

func run(args []string, stdout, stderr io.Writer) int {
	c := newCLI(stderr)
	command, err := c.app.Parse(args)
	if err != nil {
		fmt.Fprintf(stderr, "trainconf: %v\n", err)
		return exitUsage
	}
	if command == "" {
		// --help was handled by kingpin
		return exitOK
	}

	logger, err := logging.New(*c.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "trainconf: %v\n", err)
		return exitUsage
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case c.check.cmd.FullCommand():
		return c.runCheck(logger, stdout, stderr)
	case c.dump.cmd.FullCommand():
		return c.runDump(logger, stdout, stderr)
	case c.plan.cmd.FullCommand():
		return c.runPlan(logger, stdout, stderr)
	}
	return exitUsage
}

func (c *cli) runCheck(logger *zap.Logger, stdout, stderr io.Writer) int {
	reg := registry.NewMemoryRegistry()
	for _, entry := range *c.check.components {
		kindName, name, ok := strings.Cut(entry, ":")
		kind, kindErr := registry.ParseKind(kindName)
		if !ok || kindErr != nil {
			fmt.Fprintf(stderr, "trainconf: invalid --component %q, want kind:name\n", entry)
			return exitUsage
		}
		if err := reg.Register(kind, []string{name}); err != nil {
			fmt.Fprintf(stderr, "trainconf: --component %q: %v\n", entry, err)
			return exitUsage
		}
	}
	resolve := *c.check.resolve || len(*c.check.components) > 0

	loader := trainconfig.NewLoader(
		trainconfig.WithLogger(logger),
		trainconfig.WithPathCheck(*c.check.checkPaths),
		trainconfig.WithStrictBatchSize(*c.check.strict),
	)
	doc, err := loader.Load(*c.check.file)
	if err != nil {
		return reportError(stderr, *c.check.file, err)
	}

	if resolve {
		if err := registry.Resolve(doc, reg); err != nil {
			return reportError(stderr, *c.check.file, err)
		}
	}

	for _, w := range doc.Lint() {
		fmt.Fprintf(stdout, "warning: %s: %s\n", w.Path, w.Message)
	}
	fmt.Fprintf(stdout, "ok: %s (model %s, %d iterations, batch %d)\n",
		*c.check.file, doc.Model.Name, doc.Training.Iterations, doc.IOTool.BatchSize)
	return exitOK
}

func (c *cli) runDump(logger *zap.Logger, stdout, stderr io.Writer) int {
	doc, err := trainconfig.NewLoader(trainconfig.WithLogger(logger)).Load(*c.dump.file)
	if err != nil {
		return reportError(stderr, *c.dump.file, err)
	}
	out, err := trainconfig.Marshal(doc)
	if err != nil {
		fmt.Fprintf(stderr, "trainconf: %v\n", err)
		return exitInvalid
	}
	_, _ = stdout.Write(out)
	return exitOK
}

type planOutput struct {
	Plan   schedule.Plan    `json:"plan" yaml:"plan"`
	Events []schedule.Event `json:"events,omitempty" yaml:"events,omitempty"`
}

func (c *cli) runPlan(logger *zap.Logger, stdout, stderr io.Writer) int {
	doc, err := trainconfig.NewLoader(trainconfig.WithLogger(logger)).Load(*c.plan.file)
	if err != nil {
		return reportError(stderr, *c.plan.file, err)
	}
	plan, err := schedule.New().Plan(doc.Training, doc.IOTool.BatchSize)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", *c.plan.file, err)
		return exitInvalid
	}

	out := planOutput{Plan: plan}
	if *c.plan.events {
		for ev := range plan.Events() {
			if len(out.Events) >= *c.plan.limit {
				break
			}
			out.Events = append(out.Events, ev)
		}
	}

	if *c.plan.format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(out)
	} else {
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		err = enc.Encode(out)
		if err == nil {
			err = enc.Close()
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "trainconf: %v\n", err)
		return exitInvalid
	}
	return exitOK
}

func reportError(stderr io.Writer, file string, err error) int {
	for _, issue := range trainconfig.Issues(err) {
		fmt.Fprintf(stderr, "%s: [%s] %s\n", file, issue.Kind, issue.Message)
	}
	return exitInvalid
}
