// Package sync provides the snapshot exporter and merge engine behind
// device-to-device sync.
//
// Overview
//
// Each device owns a complete copy of the user's data. Syncing two devices
// exchanges full snapshots in both directions; each side merges what it
// receives into its own store:
//
//	Device A                          Device B
//	   │ Export() ── snapshot A ──►      │
//	   │                                 │ Merge(snapshot A)
//	   │      ◄── snapshot B' ── Export()│
//	   │ Merge(snapshot B')              │
//
// B exports after merging, so B' already contains A's newer records and
// both stores converge after one round trip.
//
// Conflict resolution
//
// Merge is last-writer-wins at record granularity:
//
//   - id unknown locally            → insert the incoming record
//   - incoming updated  > local     → replace the whole local record
//   - incoming updated <= local     → keep local (local wins ties)
//
// Fields inside a record are never blended. Missing or unparseable updated
// values count as the Unix epoch. Merge never deletes: records absent from
// the snapshot are left alone, and deletions made on one device are not
// propagated to the other.
//
// Atomicity
//
// The whole merge, across every collection, runs in one store transaction.
// A malformed collection or record anywhere in the snapshot aborts it and
// leaves the store exactly as it was. Once started, the transaction is not
// abandoned when the caller's context is cancelled.
//
// Usage
//
//	database, err := db.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	syncer := sync.New(database, nil)
//
//	snap, err := syncer.Export(ctx)     // send snap to the peer
//	result, err := syncer.Merge(ctx, remote)
//
// Concurrency
//
// Exports read each collection sequentially without a transaction, so they
// may run alongside ordinary edits. Merges take the store's single writer
// lock; a second merge waits for the first to commit.
package sync
