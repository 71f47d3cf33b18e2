// Package daemon provides the inbox daemon for file-based sync.
//
// The daemon watches one directory (the inbox) for snapshot documents, such
// as files copied from a USB stick or dropped by a shared folder client,
// and merges each one into the local store with the same last-writer-wins
// rules as a peer exchange.
//
// # Architecture
//
//	inbox/
//	  laptop.json          ← new snapshot, merged after the debounce interval
//	  processed/           ← merged snapshots, prefixed with the merge time
//	  failed/              ← snapshots that were rejected
//
// A file is handled once it has been quiet for Config.DebounceInterval, so
// a copy still in progress is not read half-written. Hidden files (names
// starting with ".") are ignored; writers that create a temporary file and
// rename it into place are picked up on the rename.
//
// # Usage
//
//	syncer := sync.New(database, nil)
//	d, err := daemon.New(syncer, "/home/me/.nootle/inbox")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	// Merges files already present, then watches until ctx is done
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// ProcessDir runs a single pass without watching, which is what
// `nootle inbox watch --once` does.
//
// # Error Handling
//
// A snapshot that fails to parse or merge is moved to failed/ and logged;
// the store is unchanged because merges are atomic. The daemon keeps
// running. Watcher errors are logged and do not stop the daemon.
//
// # Graceful Shutdown
//
// Cancelling the context passed to Start (or calling Stop) closes the
// fsnotify watcher and waits for an in-flight merge to finish. Pending
// files that were not yet processed stay in the inbox for the next run.
package daemon
