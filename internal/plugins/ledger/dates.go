package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

// FormLayout is the local date-time layout submitted by datetime-local inputs.
const FormLayout = "2006-01-02T15:04"

// DayLayout is the layout of the from/to filter bounds.
const DayLayout = "2006-01-02"

var errBadDate = errors.New("unparsable date")

// ParseTxDate interprets a submitted transaction date in loc. Empty input
// means current time. The form layout is tried first, then free-form
// parsing; the result is expressed in loc.
func ParseTxDate(input string, loc *time.Location, current time.Time) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return current.In(loc), nil
	}
	if t, err := time.ParseInLocation(FormLayout, input, loc); err == nil {
		return t, nil
	}
	t, err := now.ParseInLocation(loc, input)
	if err != nil {
		return time.Time{}, errBadDate
	}
	return t.In(loc), nil
}

// DayStart returns 00:00:00 of the given calendar day in loc.
func DayStart(day string, loc *time.Location) (time.Time, error) {
	t, err := parseDay(day, loc)
	if err != nil {
		return time.Time{}, err
	}
	return now.With(t).BeginningOfDay(), nil
}

// DayEnd returns 23:59:59 of the given calendar day in loc.
func DayEnd(day string, loc *time.Location) (time.Time, error) {
	t, err := parseDay(day, loc)
	if err != nil {
		return time.Time{}, err
	}
	return now.With(t).BeginningOfDay().Add(24*time.Hour - time.Second), nil
}

func parseDay(day string, loc *time.Location) (time.Time, error) {
	day = strings.TrimSpace(day)
	if t, err := time.ParseInLocation(DayLayout, day, loc); err == nil {
		return t, nil
	}
	t, err := now.ParseInLocation(loc, day)
	if err != nil {
		return time.Time{}, errBadDate
	}
	return t.In(loc), nil
}
