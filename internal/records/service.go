// Package records provides the local CRUD operations behind the CLI.
//
// Every write stamps the record envelope the same way: a new record gets a
// UUID and a created time, and every save sets updated to now. That
// updated value is what merges compare, so local edits must go through
// this package (or set updated themselves) to win against older copies on
// other devices.
package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nootle/nootle/internal/db"
	"github.com/nootle/nootle/internal/schema"
)

// ErrInvalidInput is returned when a required field is missing or out of range.
var ErrInvalidInput = errors.New("invalid input")

// Service reads and writes typed records.
type Service struct {
	db    *db.DB
	now   func() time.Time
	newID func() string
}

// New creates a service on an initialized store.
func New(database *db.DB) *Service {
	return &Service{
		db:    database,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Save stamps e and writes it to collection. A missing id and created time
// are filled in; updated is always set to now.
func (s *Service) Save(ctx context.Context, collection string, e schema.Entity) error {
	rec, err := s.stamp(e)
	if err != nil {
		return err
	}
	if err := s.db.PutContext(ctx, collection, rec); err != nil {
		return fmt.Errorf("failed to save %s: %w", collection, err)
	}
	return nil
}

// stamp fills in the envelope and encodes e.
func (s *Service) stamp(e schema.Entity) (*schema.Record, error) {
	meta := e.GetMeta()
	now := schema.FormatTime(s.now())
	if meta.ID == "" {
		meta.ID = s.newID()
	}
	if meta.Created == "" {
		meta.Created = now
	}
	meta.Updated = now

	return schema.NewRecord(e)
}

// Get loads the record id from collection into out.
func (s *Service) Get(ctx context.Context, collection, id string, out schema.Entity) error {
	rec, err := s.db.GetContext(ctx, collection, id)
	if err != nil {
		return err
	}
	return rec.Decode(out)
}

// Delete removes a record and clears references to it.
func (s *Service) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.GetContext(ctx, collection, id); err != nil {
		return err
	}
	return s.db.DeleteContext(ctx, collection, id)
}

// ErrAmbiguousID is returned by ResolveID when a prefix matches more than
// one record.
var ErrAmbiguousID = errors.New("ambiguous id prefix")

// ResolveID expands an id prefix to the full id of the single matching
// record in collection. An exact match always wins.
func (s *Service) ResolveID(ctx context.Context, collection, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if _, err := s.db.GetContext(ctx, collection, prefix); err == nil {
		return prefix, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return "", err
	}

	matches, err := s.db.ScanContext(ctx, collection, db.Filter{
		Match: func(r *schema.Record) bool { return strings.HasPrefix(r.ID, prefix) },
		Limit: 2,
	})
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no %s record matches %q", db.ErrNotFound, collection, prefix)
	case 1:
		return matches[0].ID, nil
	default:
		return "", fmt.Errorf("%w: %q matches several %s records", ErrAmbiguousID, prefix, collection)
	}
}

// list decodes every record of collection matching filter.
func list[T any](ctx context.Context, s *Service, collection string, filter db.Filter) ([]T, error) {
	recs, err := s.db.ScanContext(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	items := make([]T, 0, len(recs))
	for _, rec := range recs {
		var item T
		if err := rec.Decode(&item); err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, rec.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// TodoInput describes a new todo.
type TodoInput struct {
	Task       string
	Priority   string
	Due        string
	CategoryID string
}

// AddTodo creates a todo. Due accepts natural language ("tomorrow 9am",
// "next friday") as well as ISO dates.
func (s *Service) AddTodo(ctx context.Context, in TodoInput) (*schema.Todo, error) {
	task := strings.TrimSpace(in.Task)
	if task == "" {
		return nil, fmt.Errorf("%w: task is required", ErrInvalidInput)
	}

	priority := strings.ToLower(strings.TrimSpace(in.Priority))
	switch priority {
	case "":
		priority = schema.PriorityMedium
	case schema.PriorityLow, schema.PriorityMedium, schema.PriorityHigh:
	default:
		return nil, fmt.Errorf("%w: priority must be low, medium or high", ErrInvalidInput)
	}

	todo := &schema.Todo{
		Task:       task,
		Priority:   priority,
		CategoryID: in.CategoryID,
	}
	if in.Due != "" {
		due, err := ParseDue(in.Due, s.now())
		if err != nil {
			return nil, err
		}
		todo.DueDate = schema.FormatTime(due)
	}
	if err := s.checkCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}

	if err := s.Save(ctx, schema.Todos, todo); err != nil {
		return nil, err
	}
	return todo, nil
}

// SetTodoCompleted marks a todo done or not done.
func (s *Service) SetTodoCompleted(ctx context.Context, id string, completed bool) (*schema.Todo, error) {
	var todo schema.Todo
	if err := s.Get(ctx, schema.Todos, id, &todo); err != nil {
		return nil, err
	}
	todo.IsCompleted = completed
	if err := s.Save(ctx, schema.Todos, &todo); err != nil {
		return nil, err
	}
	return &todo, nil
}

// TodoFilter selects todos for ListTodos.
type TodoFilter struct {
	CategoryID       string
	IncludeCompleted bool
}

// ListTodos returns todos newest first.
func (s *Service) ListTodos(ctx context.Context, f TodoFilter) ([]schema.Todo, error) {
	filter := db.Filter{
		CategoryID: f.CategoryID,
		OrderBy:    db.OrderCreatedDesc,
	}
	if !f.IncludeCompleted {
		filter.Match = func(r *schema.Record) bool {
			return !r.Field("is_completed").Bool()
		}
	}
	return list[schema.Todo](ctx, s, schema.Todos, filter)
}

// AddCategory creates a category.
func (s *Service) AddCategory(ctx context.Context, name, color string) (*schema.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if color == "" {
		color = "#3b82f6"
	}

	cat := &schema.Category{Name: name, Color: color}
	if err := s.Save(ctx, schema.Categories, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// ListCategories returns categories in creation order.
func (s *Service) ListCategories(ctx context.Context) ([]schema.Category, error) {
	return list[schema.Category](ctx, s, schema.Categories, db.Filter{OrderBy: db.OrderCreatedAsc})
}

// checkCategory verifies that a referenced category exists locally.
func (s *Service) checkCategory(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.db.GetContext(ctx, schema.Categories, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%w: category %s does not exist", ErrInvalidInput, id)
		}
		return err
	}
	return nil
}

// Profile returns the local profile, or db.ErrNotFound if none was set.
func (s *Service) Profile(ctx context.Context) (*schema.Profile, error) {
	profiles, err := list[schema.Profile](ctx, s, schema.Profiles, db.Filter{
		OrderBy: db.OrderUpdatedDesc,
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, db.ErrNotFound
	}
	return &profiles[0], nil
}

// SetProfile creates or updates the local profile. The slug follows the name.
func (s *Service) SetProfile(ctx context.Context, name, email string) (*schema.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	profile, err := s.Profile(ctx)
	if errors.Is(err, db.ErrNotFound) {
		profile = &schema.Profile{}
	} else if err != nil {
		return nil, err
	}

	profile.Name = name
	profile.Slug = schema.Slugify(name)
	if email != "" {
		profile.Email = email
	}
	if err := s.Save(ctx, schema.Profiles, profile); err != nil {
		return nil, err
	}
	return profile, nil
}
