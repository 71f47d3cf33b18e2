package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nootle/nootle/internal/schema"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a write transaction spanning all collections. It is only valid
// inside the function passed to DB.Update.
type Tx struct {
	q querier
}

// Get retrieves a record by id. Returns ErrNotFound if it does not exist.
func (tx *Tx) Get(ctx context.Context, collection, id string) (*schema.Record, error) {
	return get(ctx, tx.q, collection, id)
}

// Scan returns the records of a collection matching filter.
func (tx *Tx) Scan(ctx context.Context, collection string, filter Filter) ([]*schema.Record, error) {
	return scan(ctx, tx.q, collection, filter)
}

// Put inserts or replaces a record keyed by its id. Replacing keeps the
// record's position in insertion order.
func (tx *Tx) Put(ctx context.Context, collection string, rec *schema.Record) error {
	if !schema.IsCollection(collection) {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("cannot put record without id into %s", collection)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, created, updated, category_id, notebook_id, data)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		created = excluded.created,
		updated = excluded.updated,
		category_id = excluded.category_id,
		notebook_id = excluded.notebook_id,
		data = excluded.data
	`, quote(collection))

	_, err := tx.q.ExecContext(ctx, query,
		rec.ID,
		rec.Created,
		rec.Updated,
		refToNullString(rec.Ref(schema.FieldCategoryID)),
		refToNullString(rec.Ref(schema.FieldNotebookID)),
		string(rec.Raw()),
	)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

// Delete removes a record and clears every soft reference pointing at it.
// Dependents keep their updated timestamp. Returns nil if the record
// doesn't exist (idempotent).
func (tx *Tx) Delete(ctx context.Context, collection, id string) error {
	if !schema.IsCollection(collection) {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", quote(collection))
	if _, err := tx.q.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}

	for _, ref := range schema.Cascades(collection) {
		if err := tx.clearReferences(ctx, ref, id); err != nil {
			return err
		}
	}
	return nil
}

// clearReferences removes ref.Field from every record in ref.Collection
// that points at id.
func (tx *Tx) clearReferences(ctx context.Context, ref schema.Reference, id string) error {
	filter := Filter{}
	switch ref.Field {
	case schema.FieldCategoryID:
		filter.CategoryID = id
	case schema.FieldNotebookID:
		filter.NotebookID = id
	default:
		return fmt.Errorf("no index for reference field %s", ref.Field)
	}

	dependents, err := tx.Scan(ctx, ref.Collection, filter)
	if err != nil {
		return fmt.Errorf("failed to find %s referencing %s: %w", ref.Collection, id, err)
	}

	for _, dep := range dependents {
		cleared, err := dep.WithoutField(ref.Field)
		if err != nil {
			return err
		}
		if err := tx.Put(ctx, ref.Collection, cleared); err != nil {
			return fmt.Errorf("failed to clear %s on %s/%s: %w", ref.Field, ref.Collection, dep.ID, err)
		}
	}
	return nil
}

// Order values for Filter.OrderBy.
const (
	OrderInsertion   = ""
	OrderCreatedAsc  = "created"
	OrderCreatedDesc = "-created"
	OrderUpdatedDesc = "-updated"
)

// Filter configures Scan.
type Filter struct {
	// CategoryID filters by category reference (empty = all)
	CategoryID string
	// NotebookID filters by notebook reference (empty = all)
	NotebookID string
	// OrderBy selects the sort order (empty = insertion order)
	OrderBy string
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Match is an optional predicate applied after the SQL filters
	Match func(*schema.Record) bool
}

func get(ctx context.Context, q querier, collection, id string) (*schema.Record, error) {
	if !schema.IsCollection(collection) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE id = ?", quote(collection))

	var data string
	err := q.QueryRowContext(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}

	rec, err := schema.ParseRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("corrupt record %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

func scan(ctx context.Context, q querier, collection string, filter Filter) ([]*schema.Record, error) {
	if !schema.IsCollection(collection) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	var conditions []string
	var args []any

	if filter.CategoryID != "" {
		conditions = append(conditions, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.NotebookID != "" {
		conditions = append(conditions, "notebook_id = ?")
		args = append(args, filter.NotebookID)
	}

	query := fmt.Sprintf("SELECT data FROM %s", quote(collection))
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	switch filter.OrderBy {
	case OrderInsertion:
		query += " ORDER BY rowid ASC"
	case OrderCreatedAsc:
		query += " ORDER BY created ASC, rowid ASC"
	case OrderCreatedDesc:
		query += " ORDER BY created DESC, rowid ASC"
	case OrderUpdatedDesc:
		query += " ORDER BY updated DESC, rowid ASC"
	default:
		return nil, fmt.Errorf("unsupported order %q", filter.OrderBy)
	}

	// With a predicate the limit has to be applied in Go.
	if filter.Limit > 0 && filter.Match == nil {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
	}
	defer rows.Close()

	records := []*schema.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}

		rec, err := schema.ParseRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("corrupt record in %s: %w", collection, err)
		}
		if filter.Match != nil && !filter.Match(rec) {
			continue
		}

		records = append(records, rec)
		if filter.Limit > 0 && len(records) >= filter.Limit {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", collection, err)
	}
	return records, nil
}

// refToNullString converts an optional reference to a nullable SQL string.
func refToNullString(id string) sql.NullString {
	if id == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: id, Valid: true}
}
