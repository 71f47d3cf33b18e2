package records

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nootle/nootle/internal/db"
	"github.com/nootle/nootle/internal/schema"
)

var (
	// ErrNoTimer is returned when a timer operation needs an active timer.
	ErrNoTimer = errors.New("no active timer")

	// ErrTimerActive is returned by StartTimer when a timer already exists.
	ErrTimerActive = errors.New("a timer is already active")
)

// MinSessionDuration is the shortest stopped timer that is recorded as a
// session. Completed timers are always recorded.
const MinSessionDuration = 60 * time.Second

// ModeDuration returns the countdown length of a timer mode. The stopwatch
// counts up and has no length.
func ModeDuration(mode string) (time.Duration, error) {
	switch mode {
	case schema.ModeFocus:
		return 25 * time.Minute, nil
	case schema.ModeShortBreak:
		return 5 * time.Minute, nil
	case schema.ModeLongBreak:
		return 15 * time.Minute, nil
	case schema.ModeStopwatch:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: unknown timer mode %q", ErrInvalidInput, mode)
	}
}

// Remaining returns the time left on a countdown, or the time elapsed on a
// stopwatch, as of now.
func Remaining(t *schema.ActiveTimer, now time.Time) time.Duration {
	base := time.Duration(t.InitialDuration * float64(time.Second))
	if t.IsPaused {
		return base
	}

	elapsed := time.Duration(0)
	if updated, ok := schema.ParseTime(t.Updated); ok {
		elapsed = max(now.Sub(updated), 0)
	}

	if t.Mode == schema.ModeStopwatch {
		return base + elapsed
	}
	return max(base-elapsed, 0)
}

// TimerInput describes a timer to start.
type TimerInput struct {
	Mode       string
	Title      string
	TodoID     string
	CategoryID string
}

// StartTimer starts a timer in the given mode. Only one timer can be active.
func (s *Service) StartTimer(ctx context.Context, in TimerInput) (*schema.ActiveTimer, error) {
	if in.Mode == "" {
		in.Mode = schema.ModeFocus
	}
	length, err := ModeDuration(in.Mode)
	if err != nil {
		return nil, err
	}

	if _, err := s.ActiveTimer(ctx); err == nil {
		return nil, ErrTimerActive
	} else if !errors.Is(err, ErrNoTimer) {
		return nil, err
	}

	t := &schema.ActiveTimer{
		Meta:            schema.Meta{ID: schema.ActiveTimerID},
		InitialDuration: length.Seconds(),
		Mode:            in.Mode,
		Title:           in.Title,
		TodoID:          in.TodoID,
		CategoryID:      in.CategoryID,
	}
	if err := s.Save(ctx, schema.ActiveTimers, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ActiveTimer returns the active timer, or ErrNoTimer.
func (s *Service) ActiveTimer(ctx context.Context) (*schema.ActiveTimer, error) {
	var t schema.ActiveTimer
	err := s.Get(ctx, schema.ActiveTimers, schema.ActiveTimerID, &t)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoTimer
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PauseTimer freezes the active timer at its current remaining time.
func (s *Service) PauseTimer(ctx context.Context) (*schema.ActiveTimer, error) {
	t, err := s.ActiveTimer(ctx)
	if err != nil {
		return nil, err
	}
	if t.IsPaused {
		return t, nil
	}

	t.InitialDuration = math.Round(Remaining(t, s.now()).Seconds())
	t.IsPaused = true
	if err := s.Save(ctx, schema.ActiveTimers, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ResumeTimer restarts a paused timer from where it stopped.
func (s *Service) ResumeTimer(ctx context.Context) (*schema.ActiveTimer, error) {
	t, err := s.ActiveTimer(ctx)
	if err != nil {
		return nil, err
	}
	if !t.IsPaused {
		return t, nil
	}

	t.InitialDuration = math.Round(Remaining(t, s.now()).Seconds())
	t.IsPaused = false
	if err := s.Save(ctx, schema.ActiveTimers, t); err != nil {
		return nil, err
	}
	return t, nil
}

// StopTimer abandons the active timer. The time spent is recorded as a
// session when it is at least MinSessionDuration; the returned session is
// nil otherwise.
func (s *Service) StopTimer(ctx context.Context) (*schema.TimerSession, error) {
	t, err := s.ActiveTimer(ctx)
	if err != nil {
		return nil, err
	}

	spent := Remaining(t, s.now())
	if t.Mode != schema.ModeStopwatch {
		length, err := ModeDuration(t.Mode)
		if err != nil {
			return nil, err
		}
		spent = max(length-spent, 0)
	}

	return s.finishTimer(ctx, t, spent, spent >= MinSessionDuration)
}

// CompleteTimer finishes the active timer and records a session for the
// full mode length, or the elapsed time for a stopwatch.
func (s *Service) CompleteTimer(ctx context.Context) (*schema.TimerSession, error) {
	t, err := s.ActiveTimer(ctx)
	if err != nil {
		return nil, err
	}

	spent := Remaining(t, s.now())
	if t.Mode != schema.ModeStopwatch {
		if spent, err = ModeDuration(t.Mode); err != nil {
			return nil, err
		}
	}

	return s.finishTimer(ctx, t, spent, true)
}

// finishTimer records the session (when record is set) and removes the
// active timer in one transaction.
func (s *Service) finishTimer(ctx context.Context, t *schema.ActiveTimer, spent time.Duration, record bool) (*schema.TimerSession, error) {
	var session *schema.TimerSession
	var rec *schema.Record
	if record {
		session = &schema.TimerSession{
			Title:       t.Title,
			Duration:    int64(math.Round(spent.Seconds())),
			CompletedAt: schema.FormatTime(s.now()),
			TodoID:      t.TodoID,
			CategoryID:  t.CategoryID,
		}
		var err error
		if rec, err = s.stamp(session); err != nil {
			return nil, err
		}
	}

	err := s.db.Update(ctx, func(tx *db.Tx) error {
		if rec != nil {
			if err := tx.Put(ctx, schema.TimerSessions, rec); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, schema.ActiveTimers, t.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to finish timer: %w", err)
	}
	return session, nil
}

// TimerSessions returns recorded sessions, most recent first.
func (s *Service) TimerSessions(ctx context.Context, limit int) ([]schema.TimerSession, error) {
	return list[schema.TimerSession](ctx, s, schema.TimerSessions, db.Filter{
		OrderBy: db.OrderCreatedDesc,
		Limit:   limit,
	})
}
