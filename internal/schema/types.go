package schema

import (
	"regexp"
	"strings"
)

// Meta holds the fields every record carries.
type Meta struct {
	ID      string `json:"id"`
	Created string `json:"created"`
	Updated string `json:"updated"`
}

// GetMeta returns the embedded metadata so services can stamp ids and
// timestamps without knowing the concrete entity.
func (m *Meta) GetMeta() *Meta { return m }

// Entity is implemented by every typed record.
type Entity interface {
	GetMeta() *Meta
}

// Category tags other records. Deleting one clears categoryId on todos,
// notebooks, notes and drawings.
type Category struct {
	Meta
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Todo priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Todo is a task with an optional due date.
type Todo struct {
	Meta
	Task        string `json:"task"`
	Priority    string `json:"priority"`
	IsCompleted bool   `json:"is_completed"`
	DueDate     string `json:"due_date"`
	CategoryID  string `json:"categoryId,omitempty"`
}

// Notebook groups notes.
type Notebook struct {
	Meta
	Title      string `json:"title"`
	Color      string `json:"color"`
	CategoryID string `json:"categoryId,omitempty"`
}

// Note is a rich-text page. Content is the editor's HTML and is opaque here.
type Note struct {
	Meta
	Title      string `json:"title"`
	Content    string `json:"content"`
	IsFavorite bool   `json:"is_favorite"`
	NotebookID string `json:"notebookId,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
	Date       string `json:"date"`
}

// Drawing is a whiteboard scene serialized by the canvas component.
type Drawing struct {
	Meta
	Title      string `json:"title"`
	Data       string `json:"data"`
	CategoryID string `json:"categoryId,omitempty"`
}

// CalendarEvent is an entry in the calendar.
type CalendarEvent struct {
	Meta
	Title       string `json:"title"`
	AllDay      bool   `json:"all_day"`
	Description string `json:"description"`
	Date        string `json:"date"`
	CategoryID  string `json:"categoryId,omitempty"`
}

// TimerSession records a finished focus timer. Duration is in seconds.
type TimerSession struct {
	Meta
	Title       string `json:"title,omitempty"`
	Duration    int64  `json:"duration"`
	CompletedAt string `json:"completedAt"`
	TodoID      string `json:"todoId,omitempty"`
	CategoryID  string `json:"categoryId,omitempty"`
}

// Profile is the single local user profile.
type Profile struct {
	Meta
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
	Slug   string `json:"slug"`
}

// ActiveTimerID is the id of the single row in the activeTimers collection.
const ActiveTimerID = "active"

// Timer modes.
const (
	ModeFocus      = "focus"
	ModeShortBreak = "short_break"
	ModeLongBreak  = "long_break"
	ModeStopwatch  = "stopwatch"
)

// ActiveTimer is the running or paused timer. InitialDuration is the number
// of seconds remaining (or elapsed, for the stopwatch) at the moment of the
// last update; Updated anchors the countdown.
type ActiveTimer struct {
	Meta
	InitialDuration float64 `json:"initial_duration"`
	IsPaused        bool    `json:"is_paused"`
	Mode            string  `json:"mode"`
	Title           string  `json:"title,omitempty"`
	TodoID          string  `json:"todoId,omitempty"`
	CategoryID      string  `json:"categoryId,omitempty"`
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a profile slug from a display name.
func Slugify(name string) string {
	s := nonSlug.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}
