package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"deadlined/internal/app"
	"deadlined/internal/storage"
	logx "deadlined/pkg/logx"
	"deadlined/pkg/systemd"
)

const stopTimeout = 10 * time.Second

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Value: "./deadlined.yaml",
	Usage: "path to the config file (YAML or JSON)",
}

func newCLI(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "deadlined",
		HelpName:  "deadlined",
		Usage:     "arm named deadlines and run them once each",
		UsageText: "deadlined <command> [arguments...]",
		Version:   version,
		Writer:    out,
		ErrWriter: out,
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "start the daemon in the foreground",
				Flags:  []cli.Flag{configFlag},
				Action: runDaemon,
			},
			{
				Name:   "check",
				Usage:  "validate a config file and print when each timer fires",
				Flags:  []cli.Flag{configFlag},
				Action: checkConfig,
			},
			{
				Name:  "history",
				Usage: "print recent runs from the history store",
				Flags: []cli.Flag{
					configFlag,
					cli.IntFlag{Name: "limit, n", Value: 20, Usage: "number of runs to show"},
				},
				Action: showHistory,
			},
		},
		Action: runDaemon,
		Flags:  []cli.Flag{configFlag},
	}
}

func runDaemon(c *cli.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(c.String("config"))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	log := logx.NewConsole("info").With(logx.String("comp", "main"))
	if ok, err := systemd.Ready(); err != nil {
		log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		log.Debug("systemd notified ready")
		_, _ = systemd.Status(fmt.Sprintf("%d timer(s) armed", a.Snapshot().Pending))
	}
	go func() {
		if err := systemd.Watchdog(ctx, log); err != nil {
			log.Warn("systemd watchdog disabled", logx.Err(err))
		}
	}()

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = systemd.Stopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return errors.Join(a.Err(), stopErr)
	}
	return stopErr
}

func checkConfig(c *cli.Context) error {
	plans, err := app.Check(c.String("config"), time.Now())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSPEC\tNEXT")
	for _, p := range plans {
		next := "never"
		if !p.Next.IsZero() {
			next = p.Next.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Key, p.Spec, next)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "config ok: %d timer(s)\n", len(plans))
	return nil
}

func showHistory(c *cli.Context) error {
	runs, err := app.History(context.Background(), c.String("config"), c.Int("limit"))
	if errors.Is(err, storage.ErrDisabled) {
		return errors.New("history is disabled in this config")
	}
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tKEY\tOUTCOME\tATTEMPT\tTOOK\tLATE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\t%dms\n",
			r.At.Format(time.RFC3339), r.Key, r.Outcome, r.Attempt, r.TookMS, r.LatenessMS)
	}
	return w.Flush()
}
