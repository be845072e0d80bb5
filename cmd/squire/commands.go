package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"squire/internal/app"
	"squire/internal/bgtask"
	"squire/internal/config"
	"squire/internal/delivery"
	"squire/internal/dispatch"
)

type rootFlags struct {
	config  string
	envFile string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "squire",
		Short:         "Offline personal assistant command processor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(f.envFile)
		},
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "./squire.yaml", "path to the config file (yaml or json)")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "dotenv file with secret overrides")

	root.AddCommand(
		serveCmd(f),
		runCmd(f),
		tasksCmd(f),
		historyCmd(f),
		versionCmd(),
	)
	return root
}

// withApp builds the app for a one-shot command and always stops it.
func withApp(f *rootFlags, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(f.config)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = a.Stop(sctx, app.StopAppStop)
	}()
	return fn(ctx, a)
}

func serveCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP and Telegram transports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(f.config)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if err := a.Start(context.Background()); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopAppStop
			select {
			case sig := <-sigs:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.Stop(ctx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}
}

func runCmd(f *rootFlags) *cobra.Command {
	var (
		nativeAudio   bool
		speechTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <command...>",
		Short: "Process one command and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(f, func(ctx context.Context, a *app.App) error {
				reply := a.Dispatcher().Handle(ctx, dispatch.Request{
					Text:          strings.Join(args, " "),
					NativeAudio:   nativeAudio,
					SpeechTimeout: speechTimeout,
					Source:        "cli",
					Actor:         os.Getenv("USER"),
				})
				printReply(cmd.OutOrStdout(), reply)
				if reply.Status == dispatch.StatusRejected {
					return errors.New("command rejected")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&nativeAudio, "native-audio", false, "speak the reply with the local voice")
	cmd.Flags().DurationVar(&speechTimeout, "speech-timeout", 0, "synthesize the reply on the speech server within this time")
	return cmd
}

func printReply(w io.Writer, reply dispatch.Reply) {
	switch reply.Status {
	case dispatch.StatusNoContent:
		fmt.Fprintln(w, "(no content)")
		return
	}
	switch reply.Delivery.Kind {
	case delivery.KindAudio:
		fmt.Fprintf(w, "%s\n(audio reply, %d bytes)\n", reply.Text, len(reply.Delivery.Audio))
	case delivery.KindFile:
		fmt.Fprintf(w, "%s\n(file: %s)\n", reply.Text, reply.Delivery.Path)
	default:
		fmt.Fprintln(w, reply.Text)
	}
}

func tasksCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the background task file",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List background tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				store := a.Tasks()
				fmt.Fprintf(out, "file: %s (%s)\n", store.Path(), store.State())
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "EVERY\tIGNORE HOURS\tTASK")
				for _, t := range store.Load(ctx) {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Every(), formatHours(t.IgnoreHours), t.Task)
				}
				return tw.Flush()
			})
		},
	}

	var (
		seconds int
		ignore  string
	)
	add := &cobra.Command{
		Use:   "add <task...>",
		Short: "Append a background task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hours bgtask.IgnoreHours
			if strings.TrimSpace(ignore) != "" {
				parts := strings.Split(ignore, ",")
				raw := make([]any, 0, len(parts))
				for _, p := range parts {
					raw = append(raw, strings.TrimSpace(p))
				}
				h, err := bgtask.ParseIgnoreHours(raw)
				if err != nil {
					return err
				}
				hours = h
			}
			return withApp(f, func(_ context.Context, a *app.App) error {
				t := bgtask.BackgroundTask{Seconds: seconds, Task: strings.Join(args, " "), IgnoreHours: hours}
				if err := a.Tasks().Add(t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %q every %s\n", t.Task, t.Every())
				return nil
			})
		},
	}
	add.Flags().IntVar(&seconds, "every", 3600, "interval in seconds")
	add.Flags().StringVar(&ignore, "ignore-hours", "", `hours to skip, e.g. "22-6,13"`)

	toggle := func(use, short string, fn func(*bgtask.Store) (bgtask.Toggle, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(f, func(_ context.Context, a *app.App) error {
					res, err := fn(a.Tasks())
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), res.Message())
					return nil
				})
			},
		}
	}

	cycle := &cobra.Command{
		Use:   "cycle",
		Short: "Run one scheduler cycle and wait for the queued tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(ctx context.Context, a *app.App) error {
				a.Engine().Start(ctx)
				report := a.Scheduler().RunCycle(ctx)
				waitIdle(ctx, a)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "loaded %d, queued %d, ignored %d, skipped %d\n",
					report.Loaded, len(report.Queued), len(report.Ignored), len(report.Skipped))
				for _, k := range report.Queued {
					fmt.Fprintln(out, "  queued:", k)
				}
				for _, k := range report.Ignored {
					fmt.Fprintln(out, "  ignored hour:", k)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(list, add,
		toggle("enable", "Re-enable background tasks", (*bgtask.Store).Enable),
		toggle("disable", "Disable background tasks without deleting them", (*bgtask.Store).Disable),
		cycle,
	)
	return cmd
}

func waitIdle(ctx context.Context, a *app.App) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		s := a.Engine().Snapshot()
		if s.QueueLen == 0 && s.InFlight == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func formatHours(h bgtask.IgnoreHours) string {
	if len(h) == 0 {
		return "-"
	}
	parts := make([]string, len(h))
	for i, v := range h {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func historyCmd(f *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent executions from the audit store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(f, func(ctx context.Context, a *app.App) error {
				st := a.Store()
				if st == nil {
					return errors.New("storage is disabled; set storage.driver in the config")
				}
				entries, err := st.RecentAudit(ctx, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "AT\tSOURCE\tKIND\tOK\tTOOK\tCOMMAND")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%dms\t%s\n",
						e.At.Local().Format(time.DateTime), e.Source, e.Kind, e.OK, e.TookMS, e.Command)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "squire", app.Version)
		},
	}
}
