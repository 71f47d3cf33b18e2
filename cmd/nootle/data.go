package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nootle/nootle/internal/daemon"
	"github.com/nootle/nootle/internal/records"
	"github.com/nootle/nootle/internal/schema"
	nsync "github.com/nootle/nootle/internal/sync"
	"github.com/nootle/nootle/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "sync",
	Short:   "Write a snapshot of every collection",
	Long: `Write the full local store as a snapshot document.

The JSON form is the same document devices exchange during sync, so it can
be copied to another device and merged there with 'nootle import' or by
dropping it into that device's inbox directory.

Examples:
  nootle export > backup.json
  nootle export -o /media/usb/laptop.json
  nootle export --format yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		syncer, database := openSyncer()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		// JSON files go through ExportFile for the atomic replace
		if format == formatJSON && output != "" {
			if err := syncer.ExportFile(ctx, output); err != nil {
				fatalf("%v", err)
			}
			fmt.Fprintf(os.Stderr, "%s Exported to %s\n", ui.RenderPass("✓"), output)
			return
		}

		snap, err := syncer.Export(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		data, err := snap.Encode()
		if err != nil {
			fatalf("%v", err)
		}

		switch format {
		case formatJSON:
			data = append(data, '\n')
		case formatYAML:
			if data, err = jsonToYAML(data); err != nil {
				fatalf("%v", err)
			}
		default:
			fatalf("unsupported format %q (use json or yaml)", format)
		}

		if output == "" {
			os.Stdout.Write(data)
			return
		}
		if err := os.WriteFile(output, data, 0644); err != nil {
			fatalf("writing %s: %v", output, err)
		}
		fmt.Fprintf(os.Stderr, "%s Exported to %s\n", ui.RenderPass("✓"), output)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "sync",
	Short:   "Merge a snapshot file into the local store",
	Long: `Merge a snapshot written by 'nootle export' (JSON or YAML) into the local
store. Each record keeps whichever copy was updated last; nothing is
deleted. A malformed snapshot is rejected as a whole and the store is left
unchanged.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := args[0]

		syncer, database := openSyncer()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		var result *nsync.MergeResult
		var err error
		if isYAMLFile(path) {
			result, err = importYAML(ctx, syncer, path)
		} else {
			result, err = syncer.ImportFile(ctx, path)
		}
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Imported %s: %s\n", ui.RenderPass("✓"), filepath.Base(path), ui.MergeSummary(result))
		fmt.Print(ui.MergeTable(result))
	},
}

// importYAML merges a snapshot written with --format yaml.
func importYAML(ctx context.Context, syncer nsync.Syncer, path string) (*nsync.MergeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	if data, err = yamlToJSON(data); err != nil {
		return nil, err
	}
	snap, err := schema.DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	return syncer.Merge(ctx, snap)
}

// storeStatus is the machine-readable form of `nootle status`.
type storeStatus struct {
	Store       string         `json:"store" yaml:"store"`
	Size        int64          `json:"size_bytes" yaml:"size_bytes"`
	Config      string         `json:"config,omitempty" yaml:"config,omitempty"`
	Relay       string         `json:"relay" yaml:"relay"`
	Inbox       string         `json:"inbox" yaml:"inbox"`
	Collections map[string]int `json:"collections" yaml:"collections"`
	Timer       *timerStatus   `json:"timer,omitempty" yaml:"timer,omitempty"`
}

type timerStatus struct {
	Mode      string `json:"mode" yaml:"mode"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Paused    bool   `json:"paused" yaml:"paused"`
	Remaining string `json:"remaining" yaml:"remaining"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "maint",
	Short:   "Show store location, record counts and the active timer",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		svc, database := openRecords()
		defer database.Close()

		ctx := context.Background()
		counts, err := database.Stats(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		st := storeStatus{
			Store:       database.Path(),
			Config:      cfg.File,
			Relay:       cfg.Relay.URL,
			Inbox:       cfg.Inbox.Dir,
			Collections: counts,
		}
		if info, err := os.Stat(database.Path()); err == nil {
			st.Size = info.Size()
		}

		timer, err := svc.ActiveTimer(ctx)
		switch {
		case err == nil:
			st.Timer = &timerStatus{
				Mode:      timer.Mode,
				Title:     timer.Title,
				Paused:    timer.IsPaused,
				Remaining: records.Remaining(timer, time.Now()).Round(time.Second).String(),
			}
		case !errors.Is(err, records.ErrNoTimer):
			fatalf("%v", err)
		}

		if format != formatText {
			data, err := encodeValue(st, format)
			if err != nil {
				fatalf("%v", err)
			}
			os.Stdout.Write(data)
			return
		}

		fmt.Printf("\n%s nootle status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Store: %s (%s)\n", st.Store, formatSize(st.Size))
		if st.Config != "" {
			fmt.Printf("Config: %s\n", st.Config)
		}
		fmt.Printf("Relay: %s\n", st.Relay)
		fmt.Printf("Inbox: %s\n\n", st.Inbox)
		rows := make([][]string, 0, len(counts))
		for _, name := range schema.Collections() {
			rows = append(rows, []string{name, fmt.Sprint(counts[name])})
		}
		fmt.Print(ui.Table([]string{"COLLECTION", "RECORDS"}, rows))
		if st.Timer != nil {
			state := "running"
			if st.Timer.Paused {
				state = "paused"
			}
			fmt.Printf("\nTimer: %s %s (%s)\n", st.Timer.Mode, st.Timer.Remaining, state)
		}
		fmt.Println()
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

var inboxCmd = &cobra.Command{
	Use:     "inbox",
	GroupID: "sync",
	Short:   "File-based sync through a watched directory",
}

var inboxWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Merge snapshot files dropped into the inbox directory",
	Long: `Watch the inbox directory (inbox.dir, or --dir) and merge every .json
snapshot that appears in it. Merged files move to processed/, rejected
files to failed/.

With --once, the files already in the inbox are merged and the command
exits without watching.`,
	Run: func(cmd *cobra.Command, args []string) {
		once, _ := cmd.Flags().GetBool("once")
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Inbox.Dir
		}

		syncer, database := openSyncer()
		defer database.Close()

		config := daemon.DefaultConfig()
		config.DebounceInterval = cfg.Inbox.Debounce
		config.Logger = logs.New("inbox")
		config.OnResult = printInboxResult

		d, err := daemon.NewWithConfig(syncer, dir, config)
		if err != nil {
			fatalf("%v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		if once {
			defer d.Stop()
			if err := os.MkdirAll(d.Dir(), 0755); err != nil {
				fatalf("%v", err)
			}
			results, err := d.ProcessDir(ctx)
			if err != nil {
				fatalf("%v", err)
			}
			if len(results) == 0 {
				fmt.Printf("Inbox %s is empty\n", d.Dir())
			}
			return
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("👀"), d.Dir())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func printInboxResult(r daemon.Result) {
	name := filepath.Base(r.Path)
	if r.Err != nil {
		fmt.Printf("%s %s rejected: %v\n", ui.RenderFail("✗"), name, r.Err)
		return
	}
	fmt.Printf("%s %s merged %s\n", ui.RenderPass("✓"), name, ui.RenderMuted(ui.MergeSummary(r.Merge)))
}

func init() {
	exportCmd.Flags().String("format", formatJSON, "Output format: json or yaml")
	exportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	statusCmd.Flags().String("format", formatText, "Output format: text, json or yaml")
	inboxWatchCmd.Flags().Bool("once", false, "Merge the files already in the inbox and exit")
	inboxWatchCmd.Flags().String("dir", "", "Inbox directory (default inbox.dir)")

	inboxCmd.AddCommand(inboxWatchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(inboxCmd)
}
