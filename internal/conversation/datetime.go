package conversation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDateTime indicates the patient's date/time input could not be
// resolved. Callers must treat this as input to re-prompt, not a system error.
var ErrInvalidDateTime = errors.New("conversation: invalid date or time")

// Layouts tried against the combined "date time" string, in order. All are
// parsed as wall-clock time in the clinic timezone, never as UTC converted.
// DD/MM is listed before MM/DD, so ambiguous numeric dates such as 03/04/2025
// resolve day-first.
var dateTimeLayouts = []string{
	"2006-01-02 3:04 PM",
	"2006-01-02 03:04 PM",
	"2006-01-02 15:04",
	"2 January 2006 3:04 PM",
	"2 January 2006 03:04 PM",
	"2 January 2006 15:04",
	"January 2 2006 3:04 PM",
	"January 2 2006 03:04 PM",
	"January 2 2006 15:04",
	"02/01/2006 3:04 PM",
	"02/01/2006 03:04 PM",
	"02/01/2006 15:04",
	"01/02/2006 3:04 PM",
	"01/02/2006 03:04 PM",
	"01/02/2006 15:04",
	"2006-01-02 3 PM",
	"2 January 2006 3 PM",
	"January 2 2006 3 PM",
}

// Layouts tried against the date portion alone when the combined parse fails.
var dateOnlyLayouts = []string{
	"2006-01-02",
	"2 January 2006",
	"January 2 2006",
	"02/01/2006",
	"01/02/2006",
}

var (
	ordinalRe  = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)
	clockRe    = regexp.MustCompile(`(?i)(\d{1,2}):?(\d{2})?\s*(AM|PM)?`)
	meridiemRe = regexp.MustCompile(`(?i)(am|pm)\b`)
)

// ResolveDateTime turns free-form date and time expressions into a single
// absolute timestamp pinned to loc. Relative words (today, tomorrow, day
// after tomorrow) are computed from now in loc.
func ResolveDateTime(dateStr, timeStr string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	nowLocal := now.In(loc)

	processedDate := strings.ToLower(strings.TrimSpace(dateStr))
	switch processedDate {
	case "today":
		processedDate = nowLocal.Format("2006-01-02")
	case "tomorrow":
		processedDate = nowLocal.AddDate(0, 0, 1).Format("2006-01-02")
	case "after tomorrow", "day after tomorrow":
		processedDate = nowLocal.AddDate(0, 0, 2).Format("2006-01-02")
	}

	combined := normalizeDateTime(processedDate + " " + strings.TrimSpace(timeStr))
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, combined, loc); err == nil {
			return t, nil
		}
	}

	// Parse the date alone, then set the clock from a regex match on the
	// time string. Building the timestamp by hand keeps the wall-clock time
	// pinned to loc with no conversion side effects.
	if day, ok := parseDateOnly(processedDate, loc); ok {
		if hour, minute, ok := parseClock(timeStr); ok {
			return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
		}
	}

	// Last resort: the caller may have put everything in the date field.
	original := normalizeDateTime(strings.TrimSpace(dateStr) + " " + strings.TrimSpace(timeStr))
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, original, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidDateTime, dateStr, timeStr)
}

func parseDateOnly(s string, loc *time.Location) (time.Time, bool) {
	s = normalizeDateTime(s)
	for _, layout := range dateOnlyLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseClock extracts hour/minute from a free-form time string, converting
// 12-hour meridiem forms to 24-hour.
func parseClock(s string) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	meridiem := strings.ToUpper(m[3])
	if meridiem == "PM" && hour != 12 {
		hour += 12
	}
	if meridiem == "AM" && hour == 12 {
		hour = 0
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// normalizeDateTime strips ordinal suffixes (15th -> 15) since time layouts
// cannot express them, uppercases meridiems, and collapses whitespace.
func normalizeDateTime(s string) string {
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, ",", " ")
	s = strings.Join(strings.Fields(s), " ")
	s = meridiemRe.ReplaceAllStringFunc(s, strings.ToUpper)
	return s
}

// FormatAppointmentDate renders the long confirmation form, e.g.
// "Monday, December 15th, 2025".
func FormatAppointmentDate(t time.Time) string {
	return fmt.Sprintf("%s, %s %s, %d", t.Weekday(), t.Month(), ordinalDay(t.Day()), t.Year())
}

// FormatAppointmentTime renders the 12-hour clock form, e.g. "3:00 PM".
func FormatAppointmentTime(t time.Time) string {
	return t.Format("3:04 PM")
}

func ordinalDay(day int) string {
	suffix := "th"
	switch {
	case day%100 >= 11 && day%100 <= 13:
	case day%10 == 1:
		suffix = "st"
	case day%10 == 2:
		suffix = "nd"
	case day%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(day) + suffix
}
