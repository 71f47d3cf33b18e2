package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nootle/nootle/internal/db"
	"github.com/nootle/nootle/internal/schema"
)

// populate fills a fresh store with n notes and n todos, half of them in
// one category, with updated times spread over a day.
func populate(b *testing.B, n int) *db.DB {
	b.Helper()

	database, err := db.Open(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatalf("Failed to open database: %v", err)
	}
	b.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		b.Fatalf("Failed to initialize schema: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	err = database.Update(ctx, func(tx *db.Tx) error {
		cat, err := schema.NewRecord(&schema.Category{Meta: schema.Meta{ID: "cat"}, Name: "Work"})
		if err != nil {
			return err
		}
		if err := tx.Put(ctx, schema.Categories, cat); err != nil {
			return err
		}

		for i := 0; i < n; i++ {
			stamp := schema.FormatTime(base.Add(time.Duration(i) * time.Minute))
			categoryID := ""
			if i%2 == 0 {
				categoryID = "cat"
			}

			note, err := schema.NewRecord(&schema.Note{
				Meta:       schema.Meta{ID: fmt.Sprintf("note-%d", i), Created: stamp, Updated: stamp},
				Title:      fmt.Sprintf("Note %d", i),
				Content:    "<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit.</p>",
				CategoryID: categoryID,
			})
			if err != nil {
				return err
			}
			if err := tx.Put(ctx, schema.Notes, note); err != nil {
				return err
			}

			todo, err := schema.NewRecord(&schema.Todo{
				Meta:       schema.Meta{ID: fmt.Sprintf("todo-%d", i), Created: stamp, Updated: stamp},
				Task:       fmt.Sprintf("Task %d", i),
				Priority:   schema.PriorityMedium,
				CategoryID: categoryID,
			})
			if err != nil {
				return err
			}
			if err := tx.Put(ctx, schema.Todos, todo); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.Fatalf("Failed to populate database: %v", err)
	}
	return database
}

func BenchmarkExport(b *testing.B) {
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("records=%d", 2*n), func(b *testing.B) {
			syncer := New(populate(b, n), quietLogger())
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				snap, err := syncer.Export(ctx)
				if err != nil {
					b.Fatalf("Export() failed: %v", err)
				}
				if _, err := snap.Encode(); err != nil {
					b.Fatalf("Encode() failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkMerge merges a snapshot into a store that already holds every
// record, so each run compares without writing. This is the steady-state
// cost of re-syncing two devices that are already in sync.
func BenchmarkMerge(b *testing.B) {
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("records=%d", 2*n), func(b *testing.B) {
			database := populate(b, n)
			syncer := New(database, quietLogger())
			ctx := context.Background()

			snap, err := syncer.Export(ctx)
			if err != nil {
				b.Fatalf("Export() failed: %v", err)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				result, err := syncer.Merge(ctx, snap)
				if err != nil {
					b.Fatalf("Merge() failed: %v", err)
				}
				if result.Written() != 0 {
					b.Fatalf("Merge() wrote %d records into an identical store", result.Written())
				}
			}
		})
	}
}
