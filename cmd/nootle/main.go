// Command nootle manages a local nootle store and syncs it with other
// devices.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nootle/nootle/internal/config"
	"github.com/nootle/nootle/internal/db"
	"github.com/nootle/nootle/internal/logging"
	"github.com/nootle/nootle/internal/records"
	nsync "github.com/nootle/nootle/internal/sync"
)

var (
	cfgFile string
	cfg     *config.Config
	logs    = logging.NewFactory(nil)
)

var rootCmd = &cobra.Command{
	Use:   "nootle",
	Short: "Local-first notes, todos and timers with device-to-device sync",
	Long: `nootle keeps notes, todos, calendar events and focus timers in a local
SQLite store and syncs them between devices without an account.

Two devices sync by exchanging full snapshots through a relay: one runs
'nootle sync serve' and shows a code, the other runs 'nootle sync connect
<code>'. Each record keeps whichever copy was updated last.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Records:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default $NOOTLE_HOME/nootle.toml)")
	flags.String("db", "", "Path to the SQLite store (overrides db.path)")
	flags.String("relay", "", "Relay URL (overrides relay.url)")
}

// loadConfig resolves the config before any command runs.
func loadConfig(cmd *cobra.Command, args []string) error {
	home, err := config.Home()
	if err != nil {
		return err
	}

	v := config.NewViper(home)
	if err := bindFlag(v, "db.path", cmd, "db"); err != nil {
		return err
	}
	if err := bindFlag(v, "relay.url", cmd, "relay"); err != nil {
		return err
	}

	cfg, err = config.Load(v, home, cfgFile)
	if err != nil {
		return err
	}

	logs = logging.NewFactory(&cfg.Log)
	return nil
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) error {
	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		return nil
	}
	return v.BindPFlag(key, flag)
}

func main() {
	err := rootCmd.Execute()
	_ = logs.Close()
	if err != nil {
		os.Exit(1)
	}
}

// fatalf prints an error and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	_ = logs.Close()
	os.Exit(1)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// isCancelled reports whether err only says the command was interrupted.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// openStore opens the configured store, creating it if needed.
func openStore(path string) *db.DB {
	database, err := db.Open(path)
	if err != nil {
		fatalf("opening store %s: %v", path, err)
	}
	if err := database.InitSchema(); err != nil {
		database.Close()
		fatalf("initializing schema: %v", err)
	}
	return database
}

// openSyncer opens the configured store and returns a syncer on it.
func openSyncer() (nsync.Syncer, *db.DB) {
	database := openStore(cfg.DB.Path)
	return nsync.New(database, logs.New("sync")), database
}

// openRecords opens the configured store and returns a record service.
func openRecords() (*records.Service, *db.DB) {
	database := openStore(cfg.DB.Path)
	return records.New(database), database
}
