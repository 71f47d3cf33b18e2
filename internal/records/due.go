package records

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/nootle/nootle/internal/schema"
)

var dueParser = newDueParser()

func newDueParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseDue converts a due date to a point in time. ISO timestamps and plain
// dates are accepted as is; anything else is read as an English expression
// relative to now ("tomorrow", "next friday 5pm", "in 3 days").
func ParseDue(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty due date", ErrInvalidInput)
	}

	if t, ok := schema.ParseTime(s); ok {
		return t, nil
	}

	r, err := dueParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: unrecognized due date %q", ErrInvalidInput, s)
	}
	return r.Time, nil
}
