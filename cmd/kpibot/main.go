package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"kpibot/internal/app"
	"kpibot/internal/report"
)

// stopBudget bounds process teardown as a whole; per-step budgets inside
// App.Stop are tighter.
const stopBudget = 45 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("kpibot", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var (
		cfgPath  = fs.String("config", "./config.json", "path to the config file (json or yaml)")
		runNow   = fs.Bool("run-now", false, "execute one report immediately, then exit")
		textOnly = fs.Bool("text-only", false, "with -run-now: skip the dashboard render and send text")
		show     = fs.Bool("show-schedule", false, "print the parsed schedule and upcoming triggers, then exit")
		daemon   = fs.Bool("daemon", false, "run the report scheduler until signaled")
	)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: kpibot [-config path] -run-now [-text-only] | -show-schedule | -daemon")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	modes := 0
	for _, on := range []bool{*runNow, *show, *daemon} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "kpibot: exactly one of -run-now, -show-schedule or -daemon is required")
		fs.Usage()
		return 2
	}
	if *textOnly && !*runNow {
		fmt.Fprintln(os.Stderr, "kpibot: -text-only only applies to -run-now")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case *show:
		return showSchedule(ctx, *cfgPath)
	case *runNow:
		var mode report.Mode
		if *textOnly {
			mode = report.ModeTextOnly
		}
		return runOnce(ctx, *cfgPath, mode)
	default:
		return runDaemon(ctx, *cfgPath)
	}
}

func showSchedule(ctx context.Context, cfgPath string) int {
	snap, err := app.DescribeSchedule(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kpibot:", err)
		return 1
	}

	fmt.Printf("cadence:   %s (%s)\n", snap.Cadence, snap.Timezone)
	fmt.Printf("next due:  %s (%s)\n", snap.NextDue.Format(time.RFC3339), humanize.Time(snap.NextDue))
	for i, at := range snap.Upcoming {
		if i == 0 {
			continue // same instant as next due
		}
		fmt.Printf("then:      %s\n", at.Format(time.RFC3339))
	}
	if !snap.HighWater.IsZero() {
		fmt.Printf("handled:   boundaries through %s\n", snap.HighWater.Format(time.RFC3339))
	}
	if snap.Last != nil {
		fmt.Printf("last run:  %s %s", snap.Last.RunID, snap.Last.Status)
		if snap.Last.Err != "" {
			fmt.Printf(" (%s)", snap.Last.Err)
		}
		fmt.Println()
	}
	return 0
}

func runOnce(ctx context.Context, cfgPath string, mode report.Mode) int {
	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kpibot:", err)
		return 1
	}
	run := a.RunOnce(ctx, mode)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopBudget)
	defer cancel()
	_ = a.Stop(stopCtx, app.StopRunDone)

	if run.Status != report.StatusSucceeded {
		fmt.Fprintf(os.Stderr, "kpibot: run %s ended %s: %s\n", run.ID, run.Status, run.Err)
		return 1
	}
	fmt.Printf("report delivered (run %s in %s)\n", run.ID, run.Duration().Round(time.Millisecond))
	return 0
}

func runDaemon(ctx context.Context, cfgPath string) int {
	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kpibot:", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "kpibot:", err)
		stopCtx, cancel := context.WithTimeout(context.Background(), stopBudget)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return 1
	}

	// Done also fires when ctx is canceled (the supervisor context is a
	// child), so the reason is decided by which error is present after waking.
	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopBudget)
	defer cancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "kpibot:", err)
		return 1
	}
	return 0
}
