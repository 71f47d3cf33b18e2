package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/nootle/nootle/internal/peer"
	"github.com/nootle/nootle/internal/relay"
	nsync "github.com/nootle/nootle/internal/sync"
	"github.com/nootle/nootle/internal/transport"
	"github.com/nootle/nootle/internal/transport/memory"
	"github.com/nootle/nootle/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync this device with another one",
	Long: `Exchange full snapshots with another device.

Both devices must reach the same relay (relay.url, or --relay). One device
waits for connections and shows its code:

  nootle sync serve

The other connects with that code:

  nootle sync connect 4F7A09C2

After the exchange both stores hold, for every record, the copy that was
updated last. Deletions are not synced.`,
}

var syncServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Wait for other devices and answer their sync requests",
	Run: func(cmd *cobra.Command, args []string) {
		once, _ := cmd.Flags().GetBool("once")

		syncer, database := openSyncer()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		client, err := relay.Dial(ctx, cfg.Relay.URL, logs.New("relay"))
		if err != nil {
			fatalf("connecting to relay %s: %v", cfg.Relay.URL, err)
		}
		defer client.Close()

		session := newSession(client, syncer)
		session.Subscribe(func(ev peer.Event) {
			if ev.State == peer.Ready {
				return
			}
			fmt.Println(ui.StatusLine(ev))
			if once && (ev.State == peer.Done || ev.State == peer.Failed) {
				cancel()
			}
		})

		if err := session.Open(ctx); err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("\n%s %s\n", ui.RenderAccent("Device code:"), ui.RenderCode(session.LocalID()))
		fmt.Printf("   %s\n\n", peer.StatusReady)
		fmt.Printf("Press Ctrl+C to stop\n\n")

		err = session.Serve(ctx)
		if err != nil && !isCancelled(err) {
			fatalf("%v", err)
		}
		if once && session.State() == peer.Failed {
			os.Exit(1)
		}
	},
}

var syncConnectCmd = &cobra.Command{
	Use:   "connect [code]",
	Short: "Sync with a device running 'nootle sync serve'",
	Long: `Connect to the device showing code, send the local snapshot, and merge
the snapshot it sends back. Without a code argument the code is asked for
interactively.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var code string
		if len(args) == 1 {
			code = ui.NormalizeCode(args[0])
		} else {
			var err error
			code, err = ui.PromptCode()
			if errors.Is(err, ui.ErrNotInteractive) {
				fatalf("no code given (usage: nootle sync connect <code>)")
			}
			if err != nil {
				fatalf("%v", err)
			}
		}
		if err := ui.ValidateCode(code); err != nil {
			fatalf("%v", err)
		}

		syncer, database := openSyncer()
		defer database.Close()

		ctx, cancel := signalContext()
		defer cancel()

		client, err := relay.Dial(ctx, cfg.Relay.URL, logs.New("relay"))
		if err != nil {
			fatalf("connecting to relay %s: %v", cfg.Relay.URL, err)
		}
		defer client.Close()

		session := newSession(client, syncer)
		session.Subscribe(func(ev peer.Event) {
			if ev.State != peer.Ready {
				fmt.Println(ui.StatusLine(ev))
			}
		})
		if err := session.Open(ctx); err != nil {
			fatalf("%v", err)
		}

		result, err := session.Connect(ctx, code)
		if err != nil {
			// The status line already explains the failure
			client.Close()
			database.Close()
			_ = logs.Close()
			os.Exit(1)
		}
		fmt.Print(ui.MergeTable(result))
	},
}

var syncLocalCmd = &cobra.Command{
	Use:   "local <other.db>",
	Short: "Sync with another nootle store on this machine",
	Long: `Run a full exchange between the configured store and another store file
over an in-process channel. Both stores end up identical, exactly as after
a sync between two devices.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		syncer, database := openSyncer()
		defer database.Close()

		other := openStore(args[0])
		defer other.Close()
		otherSyncer := nsync.New(other, logs.New("sync"))

		ctx, cancel := signalContext()
		defer cancel()

		result, err := syncLocal(ctx, syncer, otherSyncer)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Synced with %s %s\n", ui.RenderPass("✓"), args[0], ui.RenderMuted(ui.MergeSummary(result)))
		fmt.Print(ui.MergeTable(result))
	},
}

// syncLocal runs one exchange between two syncers over an in-process
// network and returns the local side's merge result.
func syncLocal(ctx context.Context, local, remote nsync.Syncer) (*nsync.MergeResult, error) {
	network := memory.NewNetwork()

	localTr, err := network.Listen("")
	if err != nil {
		return nil, err
	}
	defer localTr.Close()

	remoteTr, err := network.Listen("")
	if err != nil {
		return nil, err
	}
	defer remoteTr.Close()

	responder := newSession(remoteTr, remote)
	initiator := newSession(localTr, local)
	if err := responder.Open(ctx); err != nil {
		return nil, err
	}
	if err := initiator.Open(ctx); err != nil {
		return nil, err
	}

	serveCtx, stopServe := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch, err := remoteTr.Accept(serveCtx)
		if err != nil {
			return
		}
		_, _ = responder.HandleIncoming(serveCtx, ch)
	}()

	result, err := initiator.Connect(ctx, remoteTr.LocalID())
	if err != nil {
		stopServe()
		wg.Wait()
		return nil, err
	}
	wg.Wait()
	stopServe()
	return result, nil
}

func newSession(tr transport.Transport, syncer nsync.Syncer) *peer.Session {
	config := peer.DefaultConfig()
	config.ReceiveTimeout = cfg.Sync.ReceiveTimeout
	config.ConnectTimeout = cfg.Sync.ConnectTimeout
	config.Logger = logs.New("peer")
	return peer.New(tr, syncer, config)
}

var relayCmd = &cobra.Command{
	Use:     "relay",
	GroupID: "sync",
	Short:   "Run the rendezvous relay",
}

var relayServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a relay server (foreground)",
	Long: `Start the WebSocket relay that pairs devices by code.

The relay only forwards frames between paired sockets; it never parses or
stores snapshots. Endpoints:

  /register   device control socket, assigns the device code
  /connect    initiator side of a pairing (?target=<code>)
  /accept     responder side of a pairing (?pair=<token>)
  /health     JSON status`,
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Relay.Listen
		}

		config := relay.DefaultConfig()
		config.Addr = addr
		config.Logger = logs.New("relay")
		server := relay.NewServer(config)

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start relay: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Relay listening on %s\n", server.GetAddr())
		fmt.Printf("Health check: http://%s/health\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signalContext()
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down relay...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Relay stopped")
	},
}

func init() {
	syncServeCmd.Flags().Bool("once", false, "Exit after the first exchange")
	relayServeCmd.Flags().String("addr", "", "Address to listen on (default relay.listen)")

	syncCmd.AddCommand(syncServeCmd)
	syncCmd.AddCommand(syncConnectCmd)
	syncCmd.AddCommand(syncLocalCmd)
	relayCmd.AddCommand(relayServeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(relayCmd)
}
