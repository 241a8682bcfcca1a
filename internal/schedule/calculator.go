// Package schedule converts a user-picked local date and time into the absolute instant a deferred
// message is handed to the provider with.
package schedule

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/connectsocial/internal/model"
)

var (
	ErrIncomplete         = errors.New("schedule: date and time are required")
	ErrTooSoon            = errors.New("schedule: selected time is too soon")
	ErrUnsupportedChannel = errors.New("schedule: unsupported channel")
)

const (
	// DefaultSMSOffset compensates the SMS scheduling backend, which reads the submitted instant in
	// the deployment's IST wall clock. It is a fixed correction, not a time zone lookup.
	DefaultSMSOffset = -(5*time.Hour + 30*time.Minute)
	DefaultMinLead   = 15 * time.Minute

	dateLayout = "2006-01-02"
)

// TooSoonError is returned for an SMS time inside the minimum lead; errors.Is(err, ErrTooSoon) holds.
type TooSoonError struct {
	MinLead time.Duration
}

func (e *TooSoonError) Error() string { return "schedule: " + e.Message() }

// Message is the user-facing text.
func (e *TooSoonError) Message() string {
	return "selected time must be at least " + formatLead(e.MinLead) + " from now"
}

func (e *TooSoonError) Is(target error) bool { return target == ErrTooSoon }

// TooSoonMessage returns the user-facing text for a too-soon error with the configured lead.
func TooSoonMessage(err error) string {
	var e *TooSoonError
	if errors.As(err, &e) {
		return e.Message()
	}
	return "selected time is too soon"
}

func formatLead(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return strconv.FormatInt(n, 10) + " " + unit + "s"
	}
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int64(d/time.Minute), "minute")
	}
	return d.String()
}

var clockLayouts = []string{"15:04", "15:04:05", "15:04:05.000"}

type Calculator struct {
	Now func() time.Time
	// Location is the wall clock the user picked the time in; only used for the SMS lead check.
	Location  *time.Location
	SMSOffset time.Duration
	MinLead   time.Duration
}

func NewCalculator(loc *time.Location, smsOffset, minLead time.Duration, now func() time.Time) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	if minLead <= 0 {
		minLead = DefaultMinLead
	}
	return &Calculator{Now: now, Location: loc, SMSOffset: smsOffset, MinLead: minLead}
}

// Compute validates date ("2006-01-02") and clock ("15:04") for channel ch and returns the UTC
// instant to schedule at. SMS enforces the minimum lead on the current day and applies SMSOffset to
// the literal value read as UTC; WhatsApp takes the literal value as UTC unchanged. Nothing is ever
// clamped: a rejected input yields no timestamp.
func (c *Calculator) Compute(date, clock string, ch model.Channel) (time.Time, error) {
	naive, err := parseNaive(date, clock)
	if err != nil {
		return time.Time{}, err
	}

	switch ch {
	case model.ChannelSMS:
		if err := c.checkLead(naive); err != nil {
			return time.Time{}, err
		}
		return naive.Add(c.SMSOffset), nil
	case model.ChannelWhatsApp:
		return naive, nil
	}
	return time.Time{}, ErrUnsupportedChannel
}

// checkLead compares on the calendar of c.Location: earlier days are rejected, later days always
// pass, the current day needs at least MinLead ahead of now.
func (c *Calculator) checkLead(naive time.Time) error {
	now := c.Now().In(c.Location)
	wall := time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), 0, c.Location)

	ny, nm, nd := now.Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, c.Location)
	picked := time.Date(naive.Year(), naive.Month(), naive.Day(), 0, 0, 0, 0, c.Location)
	switch {
	case picked.Before(today):
		return &TooSoonError{MinLead: c.MinLead}
	case picked.After(today):
		return nil
	}
	if wall.Sub(now) < c.MinLead {
		return &TooSoonError{MinLead: c.MinLead}
	}
	return nil
}

func parseNaive(date, clock string) (time.Time, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, ErrIncomplete
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, ErrIncomplete
	}
	for _, layout := range clockLayouts {
		tc, err := time.Parse(layout, clock)
		if err != nil {
			continue
		}
		return time.Date(d.Year(), d.Month(), d.Day(), tc.Hour(), tc.Minute(), tc.Second(), 0, time.UTC), nil
	}
	return time.Time{}, ErrIncomplete
}

// IsValidationError reports whether err came from input validation (never sent to the network).
func IsValidationError(err error) bool {
	return errors.Is(err, ErrIncomplete) || errors.Is(err, ErrTooSoon) || errors.Is(err, ErrUnsupportedChannel)
}
