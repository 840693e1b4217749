// Command growthctl is the operator CLI: recompute windows on demand, query
// daily series, import scenarios and input bundles, export series to blob
// storage and list trigger events.
//
// Usage:
//
//	growthctl [-config file] <command> [flags]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"aquacore/internal/app"
	"aquacore/internal/config"
	"aquacore/internal/core"
	"aquacore/internal/export"
	"aquacore/internal/observability"
	"aquacore/internal/worker"
	"aquacore/pkg/domain"
)

var exitFunc = os.Exit

type command struct {
	summary string
	run     func(ctx context.Context, a *app.App, args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"recompute":       {"recompute an assignment or batch window and wait for the jobs", cmdRecompute},
	"series":          {"print the daily series of an assignment or batch", cmdSeries},
	"import-scenario": {"import a GrowthScenario YAML file, optionally pinning it to a batch", cmdImportScenario},
	"import-inputs":   {"import a JSON bundle of input records", cmdImportInputs},
	"export":          {"export a series to blob storage", cmdExport},
	"triggers":        {"list trigger events recorded for a batch", cmdTriggers},
}

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("growthctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config (default $AQUACORE_CONFIG_FILE)")
	fs.Usage = func() { usage(fs, stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(fs, stderr)
		return 2
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "growthctl: unknown command %q\n", name)
		usage(fs, stderr)
		return 2
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "growthctl: %v\n", err)
		return 1
	}
	log, err := observability.NewLogger(cfg.LogMode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "growthctl: logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "growthctl: %v\n", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	if err := cmd.run(ctx, a, fs.Args()[1:], stdout); err != nil {
		_, _ = fmt.Fprintf(stderr, "growthctl %s: %v\n", name, err)
		if errors.Is(err, flag.ErrHelp) || errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

var errUsage = errors.New("invalid usage")

func usage(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: growthctl [-config file] <command> [flags]")
	fs.PrintDefaults()
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	_, _ = fmt.Fprintln(w, "commands:")
	for _, n := range names {
		_, _ = fmt.Fprintf(w, "  %-16s %s\n", n, commands[n].summary)
	}
}

// dateRange registers -start and -end flags.
type dateRange struct{ start, end string }

func (d *dateRange) register(fs *flag.FlagSet) {
	fs.StringVar(&d.start, "start", "", "first day, YYYY-MM-DD")
	fs.StringVar(&d.end, "end", "", "last day (inclusive), YYYY-MM-DD; defaults to -start")
}

func (d dateRange) parse() (time.Time, time.Time, error) {
	if d.start == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -start is required", errUsage)
	}
	start, err := domain.ParseDateKey(d.start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -start: %v", errUsage, err)
	}
	if d.end == "" {
		return start, start, nil
	}
	end, err := domain.ParseDateKey(d.end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -end: %v", errUsage, err)
	}
	return start, end, nil
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdRecompute(ctx context.Context, a *app.App, args []string, stdout io.Writer) error {
	fs := newFlagSet("recompute")
	assignments := fs.String("assignment", "", "comma separated assignment ids")
	batch := fs.String("batch", "", "batch id")
	reason := fs.String("reason", "manual", "reason recorded on the job")
	timeout := fs.Duration("wait", 10*time.Minute, "maximum time to wait for the jobs")
	var dr dateRange
	dr.register(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	start, end, err := dr.parse()
	if err != nil {
		return err
	}

	a.Worker.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Worker.Stop(stopCtx)
	}()
	ticket := a.Worker.Submit(ctx, worker.Request{
		AssignmentIDs: splitList(*assignments),
		BatchID:       strings.TrimSpace(*batch),
		Start:         start,
		End:           end,
		Reason:        *reason,
		RequestedBy:   "growthctl",
	})
	if !ticket.Accepted {
		return fmt.Errorf("request rejected: %s", ticket.Reason)
	}
	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if err := a.Worker.Wait(waitCtx, ticket.JobIDs...); err != nil {
		return fmt.Errorf("waiting for jobs: %w", err)
	}
	jobs := make([]worker.Job, 0, len(ticket.JobIDs))
	failed := 0
	for _, id := range ticket.JobIDs {
		job, _ := a.Worker.Job(id)
		if job.Status == worker.StatusFailed {
			failed++
		}
		jobs = append(jobs, job)
	}
	if err := writeJSON(stdout, map[string]any{"ticket": ticket, "jobs": jobs}); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(jobs))
	}
	return nil
}

func cmdSeries(ctx context.Context, a *app.App, args []string, stdout io.Writer) error {
	fs := newFlagSet("series")
	scope := fs.String("scope", string(export.ScopeAssignment), "assignment or batch")
	id := fs.String("id", "", "assignment or batch id")
	format := fs.String("format", string(export.FormatJSON), "json or csv")
	var dr dateRange
	dr.register(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	start, end, err := dr.parse()
	if err != nil {
		return err
	}
	f, err := export.ParseFormat(*format)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	out, err := a.Exporter.Render(ctx, export.Request{Scope: export.Scope(*scope), TargetID: *id, Start: start, End: end}, f)
	if err != nil {
		return err
	}
	_, err = stdout.Write(out)
	return err
}

func cmdImportScenario(ctx context.Context, a *app.App, args []string, stdout io.Writer) error {
	fs := newFlagSet("import-scenario")
	file := fs.String("file", "", "scenario YAML file")
	pin := fs.String("pin", "", "batch id to pin the scenario to")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *file == "" {
		return fmt.Errorf("%w: -file is required", errUsage)
	}
	sc, err := config.LoadScenario(*file)
	if err != nil {
		return err
	}
	stored, err := a.Service.ImportScenario(ctx, sc, *pin)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"scenario_id": stored.ID, "pinned_batch": *pin})
}

func cmdImportInputs(ctx context.Context, a *app.App, args []string, stdout io.Writer) error {
	fs := newFlagSet("import-inputs")
	file := fs.String("file", "", "JSON input bundle ('-' for stdin)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	var r io.Reader = os.Stdin
	switch *file {
	case "":
		return fmt.Errorf("%w: -file is required", errUsage)
	case "-":
	default:
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	in, err := core.DecodeInputs(r)
	if err != nil {
		return err
	}
	if err := a.Service.ImportInputs(ctx, in); err != nil {
		return err
	}
	return writeJSON(stdout, map[string]int{
		"scenarios":   len(in.Scenarios),
		"batches":     len(in.Batches),
		"containers":  len(in.Containers),
		"assignments": len(in.Assignments),
		"samples":     len(in.Samples),
		"transfers":   len(in.Transfers),
		"readings":    len(in.Readings),
		"mortality":   len(in.Mortality),
		"feedings":    len(in.Feedings),
	})
}

func cmdExport(ctx context.Context, a *app.App, args []string, stdout io.Writer) error {
	fs := newFlagSet("export")
	scope := fs.String("scope", string(export.ScopeAssignment), "assignment or batch")
	id := fs.String("id", "", "assignment or batch id")
	formats := fs.String("formats", "json,csv", "comma separated formats")
	var dr dateRange
	dr.register(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	start, end, err := dr.parse()
	if err != nil {
		return err
	}
	var fmts []export.Format
	for _, f := range splitList(*formats) {
		parsed, err := export.ParseFormat(f)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		fmts = append(fmts, parsed)
	}
	artifacts, err := a.Exporter.Export(ctx, export.Request{
		Scope:       export.Scope(*scope),
		TargetID:    *id,
		Start:       start,
		End:         end,
		Formats:     fmts,
		RequestedBy: "growthctl",
	})
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"artifacts": artifacts})
}

func cmdTriggers(ctx context.Context, a *app.App, args []string, stdout io.Writer) error {
	fs := newFlagSet("triggers")
	batch := fs.String("batch", "", "batch id")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *batch == "" {
		return fmt.Errorf("%w: -batch is required", errUsage)
	}
	events, err := a.Service.TriggerEvents(ctx, *batch)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"events": events})
}
