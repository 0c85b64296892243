package core

// convert.go turns raw cell text into typed values.
//
// These functions handle the messy reality of spreadsheet exports:
//   - Multiple date formats (US, EU, ISO, etc.), with or without a time part
//   - Time-only cells for agenda slots ("09:30", "2:15 PM")
//   - Thousand separators in numbers
//
// Parsed times carry no zone information and are returned as UTC.

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// integerRegex validates an integer after separator cleanup.
var integerRegex = regexp.MustCompile(`^[+-]?\d+$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
		"1/2/06 15:04", "01/02/06 15:04",
	}
	fourDigitYearLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05", "2006-01-02T15:04",
		"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02 3:04 PM", "2006-01-02 3:04PM",
		"2006/01/02 15:04",
		"1/2/2006 15:04:05", "1/2/2006 15:04", "1/2/2006 3:04 PM", "1/2/2006 3:04PM",
		"01/02/2006 15:04",
		"Jan 2, 2006 15:04", "Jan 2, 2006 3:04 PM", "January 2, 2006 3:04 PM",
		"2 Jan 2006 15:04",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "2 January 2006",
		"20060102",
	}
	timeOfDayLayouts = []string{
		"15:04", "15:04:05", "3:04 PM", "3:04PM", "3:04 pm", "3:04pm", "3 PM", "3PM", "3pm",
	}
)

// ParseDateTime parses a date or date-time cell.
// Returns false if s is empty or matches no known layout.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), true
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot

	for _, layout := range twoDigitYearLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// ParseTimeOfDay parses a time-only cell and returns the offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	for _, layout := range timeOfDayLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, true
		}
	}
	return 0, false
}

// ParseSlotTime parses an agenda start or end cell. A full date-time is
// used as is; a time-only value is placed on day's calendar date.
func ParseSlotTime(s string, day time.Time) (time.Time, bool) {
	if t, ok := ParseDateTime(s); ok {
		return t, true
	}
	if offset, ok := ParseTimeOfDay(s); ok {
		y, m, d := day.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(offset), true
	}
	return time.Time{}, false
}

// ParseInt parses an integer cell, tolerating thousands separators and
// a trailing ".0" from spreadsheet number formatting.
func ParseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.TrimSuffix(s, ".0")
	if !integerRegex.MatchString(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
