package records

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nootle/nootle/internal/db"
	"github.com/nootle/nootle/internal/schema"
)

// clock is a settable time source for tests.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// setupTestService opens a fresh store and returns a service with a fixed
// clock and sequential ids.
func setupTestService(t *testing.T) (*Service, *db.DB, *clock) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}

	c := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	n := 0
	svc := New(database)
	svc.now = c.now
	svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return svc, database, c
}

func TestService_SaveStampsEnvelope(t *testing.T) {
	svc, database, c := setupTestService(t)
	ctx := context.Background()

	note := &schema.Note{Title: "Groceries"}
	if err := svc.Save(ctx, schema.Notes, note); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if note.ID != "id-1" {
		t.Errorf("ID = %q, want id-1", note.ID)
	}
	if note.Created != "2024-03-01T09:00:00.000Z" || note.Updated != note.Created {
		t.Errorf("timestamps = %q/%q", note.Created, note.Updated)
	}

	c.advance(time.Minute)
	note.Title = "Groceries and more"
	if err := svc.Save(ctx, schema.Notes, note); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if note.ID != "id-1" {
		t.Errorf("ID changed to %q", note.ID)
	}
	if note.Created != "2024-03-01T09:00:00.000Z" {
		t.Errorf("Created changed to %q", note.Created)
	}
	if note.Updated != "2024-03-01T09:01:00.000Z" {
		t.Errorf("Updated = %q", note.Updated)
	}

	rec, err := database.Get(schema.Notes, "id-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := rec.Field("title").String(); got != "Groceries and more" {
		t.Errorf("stored title = %q", got)
	}
}

func TestService_AddTodo(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	cat, err := svc.AddCategory(ctx, "Work", "")
	if err != nil {
		t.Fatalf("AddCategory() error = %v", err)
	}

	tests := []struct {
		name    string
		in      TodoInput
		want    schema.Todo
		wantErr error
	}{
		{
			name: "defaults",
			in:   TodoInput{Task: "  Buy milk "},
			want: schema.Todo{Task: "Buy milk", Priority: schema.PriorityMedium},
		},
		{
			name: "priority is case-insensitive",
			in:   TodoInput{Task: "Ship it", Priority: "HIGH"},
			want: schema.Todo{Task: "Ship it", Priority: schema.PriorityHigh},
		},
		{
			name: "iso due date",
			in:   TodoInput{Task: "Taxes", Due: "2024-04-15"},
			want: schema.Todo{Task: "Taxes", Priority: schema.PriorityMedium, DueDate: "2024-04-15T00:00:00.000Z"},
		},
		{
			name: "with category",
			in:   TodoInput{Task: "Report", CategoryID: cat.ID},
			want: schema.Todo{Task: "Report", Priority: schema.PriorityMedium, CategoryID: cat.ID},
		},
		{
			name:    "empty task",
			in:      TodoInput{Task: "   "},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "bad priority",
			in:      TodoInput{Task: "x", Priority: "urgent"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unknown category",
			in:      TodoInput{Task: "x", CategoryID: "missing"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "unparseable due date",
			in:      TodoInput{Task: "x", Due: "whenever"},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.AddTodo(ctx, tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("AddTodo() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AddTodo() error = %v", err)
			}
			if got.Task != tt.want.Task || got.Priority != tt.want.Priority ||
				got.DueDate != tt.want.DueDate || got.CategoryID != tt.want.CategoryID {
				t.Errorf("AddTodo() = %+v, want %+v", got, tt.want)
			}
			if got.ID == "" || got.IsCompleted {
				t.Errorf("AddTodo() envelope = %+v", got.Meta)
			}
		})
	}
}

func TestService_ListTodos(t *testing.T) {
	svc, _, c := setupTestService(t)
	ctx := context.Background()

	work, _ := svc.AddCategory(ctx, "Work", "#ff0000")
	first, _ := svc.AddTodo(ctx, TodoInput{Task: "first", CategoryID: work.ID})
	c.advance(time.Second)
	second, _ := svc.AddTodo(ctx, TodoInput{Task: "second"})
	c.advance(time.Second)
	third, _ := svc.AddTodo(ctx, TodoInput{Task: "third", CategoryID: work.ID})

	if _, err := svc.SetTodoCompleted(ctx, third.ID, true); err != nil {
		t.Fatalf("SetTodoCompleted() error = %v", err)
	}

	tests := []struct {
		name   string
		filter TodoFilter
		want   []string
	}{
		{"open todos newest first", TodoFilter{}, []string{second.ID, first.ID}},
		{"include completed", TodoFilter{IncludeCompleted: true}, []string{third.ID, second.ID, first.ID}},
		{"by category", TodoFilter{CategoryID: work.ID}, []string{first.ID}},
		{"by category with completed", TodoFilter{CategoryID: work.ID, IncludeCompleted: true}, []string{third.ID, first.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			todos, err := svc.ListTodos(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTodos() error = %v", err)
			}
			var ids []string
			for _, todo := range todos {
				ids = append(ids, todo.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("ListTodos() = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestService_SetTodoCompleted_NotFound(t *testing.T) {
	svc, _, _ := setupTestService(t)

	_, err := svc.SetTodoCompleted(context.Background(), "missing", true)
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("SetTodoCompleted() error = %v, want ErrNotFound", err)
	}
}

func TestService_DeleteCategoryClearsReferences(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	cat, _ := svc.AddCategory(ctx, "Home", "")
	todo, _ := svc.AddTodo(ctx, TodoInput{Task: "Vacuum", CategoryID: cat.ID})

	if err := svc.Delete(ctx, schema.Categories, cat.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	var got schema.Todo
	if err := svc.Get(ctx, schema.Todos, todo.ID, &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CategoryID != "" {
		t.Errorf("CategoryID = %q, want cleared", got.CategoryID)
	}

	cats, err := svc.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(cats) != 0 {
		t.Errorf("ListCategories() = %d, want 0", len(cats))
	}

	if err := svc.Delete(ctx, schema.Categories, cat.ID); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestService_Profile(t *testing.T) {
	svc, _, c := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.Profile(ctx); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("Profile() error = %v, want ErrNotFound", err)
	}

	p, err := svc.SetProfile(ctx, "Ada Lovelace", "ada@example.com")
	if err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}
	if p.Slug != "ada-lovelace" {
		t.Errorf("Slug = %q", p.Slug)
	}

	c.advance(time.Minute)
	p2, err := svc.SetProfile(ctx, "Ada King", "")
	if err != nil {
		t.Fatalf("second SetProfile() error = %v", err)
	}
	if p2.ID != p.ID {
		t.Errorf("SetProfile() created a second profile %q", p2.ID)
	}
	if p2.Email != "ada@example.com" || p2.Slug != "ada-king" {
		t.Errorf("updated profile = %+v", p2)
	}

	if _, err := svc.SetProfile(ctx, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("SetProfile(\"\") error = %v, want ErrInvalidInput", err)
	}
}

func TestParseDue(t *testing.T) {
	// Friday
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-04-15", want: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)},
		{in: "2024-04-15T10:30:00Z", want: time.Date(2024, 4, 15, 10, 30, 0, 0, time.UTC)},
		{in: "tomorrow", want: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
		{in: "in 3 days", want: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)},
		{in: "", wantErr: true},
		{in: "whenever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDue(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDue(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			// Relative expressions are only checked to the day
			if got.Format(time.DateOnly) != tt.want.Format(time.DateOnly) {
				t.Errorf("ParseDue(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRemaining(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(d time.Duration) string { return schema.FormatTime(now.Add(-d)) }

	tests := []struct {
		name  string
		timer schema.ActiveTimer
		want  time.Duration
	}{
		{
			name:  "running countdown",
			timer: schema.ActiveTimer{Meta: schema.Meta{Updated: at(10 * time.Minute)}, Mode: schema.ModeFocus, InitialDuration: 1500},
			want:  15 * time.Minute,
		},
		{
			name:  "countdown floors at zero",
			timer: schema.ActiveTimer{Meta: schema.Meta{Updated: at(time.Hour)}, Mode: schema.ModeShortBreak, InitialDuration: 300},
			want:  0,
		},
		{
			name:  "paused ignores elapsed time",
			timer: schema.ActiveTimer{Meta: schema.Meta{Updated: at(time.Hour)}, Mode: schema.ModeFocus, InitialDuration: 600, IsPaused: true},
			want:  10 * time.Minute,
		},
		{
			name:  "stopwatch counts up",
			timer: schema.ActiveTimer{Meta: schema.Meta{Updated: at(90 * time.Second)}, Mode: schema.ModeStopwatch, InitialDuration: 30},
			want:  2 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Remaining(&tt.timer, now); got != tt.want {
				t.Errorf("Remaining() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_TimerLifecycle(t *testing.T) {
	svc, database, c := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.ActiveTimer(ctx); !errors.Is(err, ErrNoTimer) {
		t.Fatalf("ActiveTimer() error = %v, want ErrNoTimer", err)
	}

	timer, err := svc.StartTimer(ctx, TimerInput{Title: "Deep work"})
	if err != nil {
		t.Fatalf("StartTimer() error = %v", err)
	}
	if timer.ID != schema.ActiveTimerID || timer.Mode != schema.ModeFocus || timer.InitialDuration != 1500 {
		t.Errorf("StartTimer() = %+v", timer)
	}
	if _, err := svc.StartTimer(ctx, TimerInput{}); !errors.Is(err, ErrTimerActive) {
		t.Errorf("second StartTimer() error = %v, want ErrTimerActive", err)
	}

	c.advance(5 * time.Minute)
	paused, err := svc.PauseTimer(ctx)
	if err != nil {
		t.Fatalf("PauseTimer() error = %v", err)
	}
	if !paused.IsPaused || paused.InitialDuration != 1200 {
		t.Errorf("PauseTimer() = %+v", paused)
	}

	// Time does not run while paused
	c.advance(time.Hour)
	resumed, err := svc.ResumeTimer(ctx)
	if err != nil {
		t.Fatalf("ResumeTimer() error = %v", err)
	}
	if resumed.IsPaused || resumed.InitialDuration != 1200 {
		t.Errorf("ResumeTimer() = %+v", resumed)
	}

	c.advance(5 * time.Minute)
	session, err := svc.StopTimer(ctx)
	if err != nil {
		t.Fatalf("StopTimer() error = %v", err)
	}
	if session == nil || session.Duration != 600 || session.Title != "Deep work" {
		t.Fatalf("StopTimer() session = %+v, want 600s", session)
	}

	if _, err := svc.ActiveTimer(ctx); !errors.Is(err, ErrNoTimer) {
		t.Errorf("timer still active after stop: %v", err)
	}
	if n, _ := database.Count(schema.TimerSessions); n != 1 {
		t.Errorf("timerSessions count = %d, want 1", n)
	}
}

func TestService_StopTimerShortSessionNotRecorded(t *testing.T) {
	svc, database, c := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.StartTimer(ctx, TimerInput{Mode: schema.ModeShortBreak}); err != nil {
		t.Fatalf("StartTimer() error = %v", err)
	}
	c.advance(30 * time.Second)

	session, err := svc.StopTimer(ctx)
	if err != nil {
		t.Fatalf("StopTimer() error = %v", err)
	}
	if session != nil {
		t.Errorf("StopTimer() recorded %+v, want nothing", session)
	}
	if n, _ := database.Count(schema.TimerSessions); n != 0 {
		t.Errorf("timerSessions count = %d, want 0", n)
	}
	if n, _ := database.Count(schema.ActiveTimers); n != 0 {
		t.Errorf("activeTimers count = %d, want 0", n)
	}
}

func TestService_CompleteTimer(t *testing.T) {
	tests := []struct {
		mode    string
		elapsed time.Duration
		want    int64
	}{
		{schema.ModeFocus, 3 * time.Minute, 1500},
		{schema.ModeLongBreak, 20 * time.Minute, 900},
		{schema.ModeStopwatch, 42 * time.Second, 42},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			svc, _, c := setupTestService(t)
			ctx := context.Background()

			if _, err := svc.StartTimer(ctx, TimerInput{Mode: tt.mode}); err != nil {
				t.Fatalf("StartTimer() error = %v", err)
			}
			c.advance(tt.elapsed)

			session, err := svc.CompleteTimer(ctx)
			if err != nil {
				t.Fatalf("CompleteTimer() error = %v", err)
			}
			if session.Duration != tt.want {
				t.Errorf("Duration = %d, want %d", session.Duration, tt.want)
			}
			if session.CompletedAt != schema.FormatTime(c.now()) {
				t.Errorf("CompletedAt = %q", session.CompletedAt)
			}

			sessions, err := svc.TimerSessions(ctx, 10)
			if err != nil || len(sessions) != 1 {
				t.Fatalf("TimerSessions() = %v, %v", sessions, err)
			}
		})
	}
}

func TestService_TimerErrors(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.StartTimer(ctx, TimerInput{Mode: "marathon"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("StartTimer(marathon) error = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.PauseTimer(ctx); !errors.Is(err, ErrNoTimer) {
		t.Errorf("PauseTimer() error = %v, want ErrNoTimer", err)
	}
	if _, err := svc.CompleteTimer(ctx); !errors.Is(err, ErrNoTimer) {
		t.Errorf("CompleteTimer() error = %v, want ErrNoTimer", err)
	}
}

func TestService_ResolveID(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	ids := []string{"abc123", "abd456", "abc"}
	n := 0
	svc.newID = func() string {
		id := ids[n]
		n++
		return id
	}
	for _, task := range []string{"one", "two", "three"} {
		if _, err := svc.AddTodo(ctx, TodoInput{Task: task}); err != nil {
			t.Fatalf("AddTodo() error = %v", err)
		}
	}

	tests := []struct {
		prefix  string
		want    string
		wantErr error
	}{
		{prefix: "abd", want: "abd456"},
		{prefix: "abc", want: "abc"},
		{prefix: "abc1", want: "abc123"},
		{prefix: "ab", wantErr: ErrAmbiguousID},
		{prefix: "zzz", wantErr: db.ErrNotFound},
		{prefix: " ", wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, err := svc.ResolveID(ctx, schema.Todos, tt.prefix)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveID(%q) error = %v, want %v", tt.prefix, err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ResolveID(%q) = %q, %v, want %q", tt.prefix, got, err, tt.want)
			}
		})
	}
}
