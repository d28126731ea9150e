package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind is the normalized kind of a sign-in schedule string.
type SpecKind int

const (
	SpecRandom SpecKind = iota
	SpecCron
	SpecInterval
)

func (k SpecKind) String() string {
	switch k {
	case SpecCron:
		return "cron"
	case SpecInterval:
		return "interval"
	default:
		return "random"
	}
}

var ErrInvalidSpec = errors.New("invalid schedule")

// HourWindow is an inclusive [Start, End] range of hours of the day.
type HourWindow struct {
	Start int
	End   int
}

func (w HourWindow) Contains(hour int) bool { return hour >= w.Start && hour <= w.End }

func (w HourWindow) String() string { return fmt.Sprintf("%d-%d", w.Start, w.End) }

// ParsedSpec is the result of ParseSpec. Exactly one variant is meaningful per Kind.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Window HourWindow
}

var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec accepts:
//   - "" (random twice-daily default)
//   - a 5-field cron expression, or a descriptor like "@daily"
//   - "H.F/S-E": every H.F hours, only between hour S and hour E (0-23, inclusive)
//
// Anything else wraps ErrInvalidSpec.
func ParseSpec(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{Kind: SpecRandom}, nil
	}
	if len(strings.Fields(s)) == 5 || strings.HasPrefix(s, "@") {
		if _, err := standardParser.Parse(s); err != nil {
			return ParsedSpec{}, fmt.Errorf("%w: cron %q: %v", ErrInvalidSpec, raw, err)
		}
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return ParsedSpec{}, fmt.Errorf("%w: %q: expected \"hours/start-end\"", ErrInvalidSpec, raw)
	}
	hours, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || hours <= 0 {
		return ParsedSpec{}, fmt.Errorf("%w: %q: interval hours must be a positive number", ErrInvalidSpec, raw)
	}
	window, err := parseWindow(parts[1])
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, raw, err)
	}
	return ParsedSpec{
		Kind:   SpecInterval,
		Every:  time.Duration(hours * float64(time.Hour)),
		Window: window,
	}, nil
}

func parseWindow(v string) (HourWindow, error) {
	se := strings.Split(strings.TrimSpace(v), "-")
	if len(se) != 2 {
		return HourWindow{}, errors.New("hour window must be start-end")
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(se[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(se[1]))
	if err1 != nil || err2 != nil {
		return HourWindow{}, errors.New("hour window bounds must be integers")
	}
	if start < 0 || end > 23 || start > end {
		return HourWindow{}, fmt.Errorf("hour window %d-%d outside 0-23 or reversed", start, end)
	}
	return HourWindow{Start: start, End: end}, nil
}
