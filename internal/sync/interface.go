// Package sync provides the snapshot exporter and merge engine.
package sync

import (
	"context"

	"github.com/nootle/nootle/internal/schema"
)

// Syncer exports the local store as a snapshot and merges snapshots
// received from other devices.
type Syncer interface {
	// Export produces a snapshot covering every collection, each in
	// store-native order.
	//
	// Store errors are returned unchanged in meaning (wrapped).
	//
	// Example:
	//   snap, err := syncer.Export(ctx)
	Export(ctx context.Context) (schema.Snapshot, error)

	// Merge integrates a remote snapshot into the local store using
	// last-writer-wins per record.
	//
	// Unknown collections are ignored and reported in the result. A
	// malformed snapshot returns a *schema.ValidationError and the store
	// is left unchanged.
	//
	// Example:
	//   result, err := syncer.Merge(ctx, remote)
	Merge(ctx context.Context, snap schema.Snapshot) (*MergeResult, error)

	// ExportFile writes a snapshot document to path. The file is replaced
	// atomically so watchers never observe a partial document.
	//
	// Example:
	//   err := syncer.ExportFile(ctx, "/media/usb/nootle.json")
	ExportFile(ctx context.Context, path string) error

	// ImportFile reads a snapshot document from path and merges it.
	//
	// Example:
	//   result, err := syncer.ImportFile(ctx, "/media/usb/nootle.json")
	ImportFile(ctx context.Context, path string) (*MergeResult, error)
}

// CollectionResult counts merge decisions for one collection.
type CollectionResult struct {
	Created int `json:"created" yaml:"created"`
	Updated int `json:"updated" yaml:"updated"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// MergeResult summarizes a merge.
type MergeResult struct {
	Created int `json:"created" yaml:"created"`
	Updated int `json:"updated" yaml:"updated"`
	Skipped int `json:"skipped" yaml:"skipped"`

	// IgnoredCollections lists snapshot collections unknown to this schema.
	IgnoredCollections []string `json:"ignored_collections,omitempty" yaml:"ignored_collections,omitempty"`

	// Collections holds per-collection counts for collections present in
	// the snapshot.
	Collections map[string]CollectionResult `json:"collections" yaml:"collections"`
}

// Written returns the number of records the merge wrote.
func (r *MergeResult) Written() int {
	return r.Created + r.Updated
}
