package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/nootle/nootle/internal/db"
	"github.com/nootle/nootle/internal/schema"
)

// syncer implements the Syncer interface.
type syncer struct {
	db     *db.DB
	logger *log.Logger
}

// New creates a new Syncer instance.
//
// The database connection must be initialized and have schema created
// before passing to this function.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	database, err := db.Open(path)
//	if err != nil {
//	    return err
//	}
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//	syncer := sync.New(database, nil)
func New(database *db.DB, logger *log.Logger) Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		db:     database,
		logger: logger,
	}
}

// Export implements Syncer.Export.
func (s *syncer) Export(ctx context.Context) (schema.Snapshot, error) {
	snap := schema.NewSnapshot()
	total := 0

	for _, collection := range schema.Collections() {
		records, err := s.db.ScanContext(ctx, collection, db.Filter{})
		if err != nil {
			return nil, fmt.Errorf("failed to export %s: %w", collection, err)
		}
		if err := snap.SetRecords(collection, records); err != nil {
			return nil, err
		}
		total += len(records)
	}

	s.logger.Printf("Exported snapshot: %d records", total)
	return snap, nil
}

// Merge implements Syncer.Merge.
func (s *syncer) Merge(ctx context.Context, snap schema.Snapshot) (*MergeResult, error) {
	if snap == nil {
		return nil, &schema.ValidationError{
			Index:  -1,
			Reason: "snapshot is nil",
			Err:    schema.ErrMalformedSnapshot,
		}
	}

	result := &MergeResult{Collections: make(map[string]CollectionResult)}
	for _, name := range snap.Names() {
		if !schema.IsCollection(name) {
			result.IgnoredCollections = append(result.IgnoredCollections, name)
		}
	}

	err := s.db.Update(ctx, func(tx *db.Tx) error {
		for _, collection := range schema.Collections() {
			if !snap.Has(collection) {
				continue
			}

			records, err := snap.Records(collection)
			if err != nil {
				return err
			}

			counts, err := mergeCollection(ctx, tx, collection, records)
			if err != nil {
				return err
			}
			result.Collections[collection] = counts
		}
		return nil
	})
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			s.logger.Printf("Rejected snapshot: %v", verr)
			return nil, err
		}
		return nil, fmt.Errorf("failed to merge snapshot: %w", err)
	}

	for _, counts := range result.Collections {
		result.Created += counts.Created
		result.Updated += counts.Updated
		result.Skipped += counts.Skipped
	}
	if len(result.IgnoredCollections) > 0 {
		s.logger.Printf("Ignored unknown collections: %v", result.IgnoredCollections)
	}
	s.logger.Printf("Merged snapshot: created=%d updated=%d skipped=%d",
		result.Created, result.Updated, result.Skipped)

	return result, nil
}

// mergeCollection applies last-writer-wins to each incoming record in
// snapshot order.
func mergeCollection(ctx context.Context, tx *db.Tx, collection string, records []*schema.Record) (CollectionResult, error) {
	var counts CollectionResult

	for _, incoming := range records {
		local, err := tx.Get(ctx, collection, incoming.ID)
		switch {
		case errors.Is(err, db.ErrNotFound):
			if err := tx.Put(ctx, collection, incoming); err != nil {
				return counts, err
			}
			counts.Created++

		case err != nil:
			return counts, err

		case incoming.UpdatedTime().After(local.UpdatedTime()):
			if err := tx.Put(ctx, collection, incoming); err != nil {
				return counts, err
			}
			counts.Updated++

		default:
			// Local is newer or equal: local wins ties.
			counts.Skipped++
		}
	}

	return counts, nil
}

// ExportFile implements Syncer.ExportFile.
func (s *syncer) ExportFile(ctx context.Context, path string) error {
	snap, err := s.Export(ctx)
	if err != nil {
		return err
	}

	data, err := snap.Encode()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	// Write next to the target and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".nootle-export-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}

	s.logger.Printf("Wrote snapshot to %s", path)
	return nil
}

// ImportFile implements Syncer.ImportFile.
func (s *syncer) ImportFile(ctx context.Context, path string) (*MergeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file %s: %w", path, err)
	}

	snap, err := schema.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file %s: %w", path, err)
	}

	return s.Merge(ctx, snap)
}
