package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nootle/nootle/internal/records"
	"github.com/nootle/nootle/internal/schema"
	"github.com/nootle/nootle/internal/ui"
)

var timerCmd = &cobra.Command{
	Use:     "timer",
	GroupID: "data",
	Short:   "Focus timer",
	Long: `Run a focus timer. Modes: focus (25m), short_break (5m), long_break (15m)
and stopwatch (counts up).

Completing a timer records a session for the full length. Stopping one
early records the time spent if it was at least a minute. The running
timer is a record like any other and syncs between devices.`,
}

var timerStartCmd = &cobra.Command{
	Use:   "start [title]",
	Short: "Start a timer",
	Run: func(cmd *cobra.Command, args []string) {
		mode, _ := cmd.Flags().GetString("mode")
		todo, _ := cmd.Flags().GetString("todo")

		svc, database := openRecords()
		defer database.Close()
		ctx := context.Background()

		in := records.TimerInput{Mode: mode}
		if len(args) > 0 {
			in.Title = args[0]
		}
		if todo != "" {
			var t schema.Todo
			in.TodoID = resolve(ctx, svc, schema.Todos, todo)
			if err := svc.Get(ctx, schema.Todos, in.TodoID, &t); err != nil {
				fatalf("%v", err)
			}
			in.CategoryID = t.CategoryID
			if in.Title == "" {
				in.Title = t.Task
			}
		}

		timer, err := svc.StartTimer(ctx, in)
		if errors.Is(err, records.ErrTimerActive) {
			fatalf("%v (use 'nootle timer stop' or 'nootle timer complete' first)", err)
		}
		if err != nil {
			fatalf("%v", err)
		}
		printTimer(timer)
	},
}

var timerPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running timer",
	Run: func(cmd *cobra.Command, args []string) {
		runTimerOp(func(ctx context.Context, svc *records.Service) (*schema.ActiveTimer, error) {
			return svc.PauseTimer(ctx)
		})
	},
}

var timerResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused timer",
	Run: func(cmd *cobra.Command, args []string) {
		runTimerOp(func(ctx context.Context, svc *records.Service) (*schema.ActiveTimer, error) {
			return svc.ResumeTimer(ctx)
		})
	},
}

var timerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active timer and recent sessions",
	Run: func(cmd *cobra.Command, args []string) {
		svc, database := openRecords()
		defer database.Close()
		ctx := context.Background()

		timer, err := svc.ActiveTimer(ctx)
		switch {
		case err == nil:
			printTimer(timer)
		case errors.Is(err, records.ErrNoTimer):
			fmt.Println("No active timer")
		default:
			fatalf("%v", err)
		}

		sessions, err := svc.TimerSessions(ctx, 5)
		if err != nil {
			fatalf("%v", err)
		}
		if len(sessions) == 0 {
			return
		}
		fmt.Printf("\nRecent sessions:\n")
		rows := make([][]string, 0, len(sessions))
		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			rows = append(rows, []string{
				ui.RenderMuted(formatDue(s.CompletedAt)),
				(time.Duration(s.Duration) * time.Second).String(),
				title,
			})
		}
		fmt.Print(ui.Table(nil, rows))
	},
}

var timerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the timer early",
	Run: func(cmd *cobra.Command, args []string) {
		svc, database := openRecords()
		defer database.Close()

		session, err := svc.StopTimer(context.Background())
		if err != nil {
			fatalf("%v", err)
		}
		if session == nil {
			fmt.Printf("%s Timer stopped (under a minute, not recorded)\n", ui.RenderWarn("■"))
			return
		}
		fmt.Printf("%s Timer stopped, recorded %s\n", ui.RenderPass("■"),
			(time.Duration(session.Duration) * time.Second).String())
	},
}

var timerCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Finish the timer and record the session",
	Run: func(cmd *cobra.Command, args []string) {
		svc, database := openRecords()
		defer database.Close()

		session, err := svc.CompleteTimer(context.Background())
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Session complete: %s\n", ui.RenderPass("✓"),
			(time.Duration(session.Duration) * time.Second).String())
	},
}

func runTimerOp(op func(context.Context, *records.Service) (*schema.ActiveTimer, error)) {
	svc, database := openRecords()
	defer database.Close()

	timer, err := op(context.Background(), svc)
	if err != nil {
		fatalf("%v", err)
	}
	printTimer(timer)
}

func printTimer(t *schema.ActiveTimer) {
	remaining := records.Remaining(t, time.Now()).Round(time.Second)

	icon, state := ui.RenderAccent("▶"), "running"
	if t.IsPaused {
		icon, state = ui.RenderWarn("⏸"), "paused"
	}

	label := "left"
	if t.Mode == schema.ModeStopwatch {
		label = "elapsed"
	}

	fmt.Printf("%s %s %s %s (%s)", icon, t.Mode, remaining, label, state)
	if t.Title != "" {
		fmt.Printf(" %s", ui.RenderBold(t.Title))
	}
	fmt.Println()
}

func init() {
	timerStartCmd.Flags().StringP("mode", "m", schema.ModeFocus, "Mode: focus, short_break, long_break or stopwatch")
	timerStartCmd.Flags().String("todo", "", "Todo to work on (id or id prefix)")

	timerCmd.AddCommand(timerStartCmd, timerPauseCmd, timerResumeCmd, timerStopCmd, timerCompleteCmd, timerShowCmd)
	rootCmd.AddCommand(timerCmd)
}
