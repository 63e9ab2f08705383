package timeline

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

var (
	ErrBadDate = errors.New("unparseable date")
	ErrBadTime = errors.New("unparseable time")
)

// arabicMonths is keyed by the folded spelling (see foldArabic).
var arabicMonths = map[string]time.Month{
	"يناير":  time.January,
	"فبراير": time.February,
	"مارس":   time.March,
	"ابريل":  time.April,
	"مايو":   time.May,
	"يونيو":  time.June,
	"يوليو":  time.July,
	"اغسطس":  time.August,
	"سبتمبر": time.September,
	"اكتوبر": time.October,
	"نوفمبر": time.November,
	"ديسمبر": time.December,
}

const (
	markerAM = "am"
	markerPM = "pm"
)

var timeMarkers = map[string]string{
	"ص":  markerAM,
	"am": markerAM,
	"م":  markerPM,
	"pm": markerPM,
}

// foldArabic normalizes hamza/madda alef forms to a bare alef, drops tatweel
// and maps Arabic-Indic and Eastern Arabic-Indic digits to ASCII.
func foldArabic(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == 'أ' || r == 'إ' || r == 'آ' || r == 'ٱ':
			b.WriteRune('ا')
		case r == 'ـ':
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func lookupMonth(name string) (time.Month, bool) {
	if m, ok := arabicMonths[name]; ok {
		return m, true
	}
	for m := time.January; m <= time.December; m++ {
		full := strings.ToLower(m.String())
		if name == full || name == full[:3] {
			return m, true
		}
	}
	return 0, false
}

// ParseDate reads "<day> <month name> <year>", e.g. "15 مارس 2025".
func ParseDate(s string) (year int, month time.Month, day int, err error) {
	fields := strings.Fields(foldArabic(s))
	if len(fields) != 3 {
		return 0, 0, 0, errors.Wrapf(ErrBadDate, "%q", s)
	}
	day, err = strconv.Atoi(fields[0])
	if err != nil || day < 1 || day > 31 {
		return 0, 0, 0, errors.Wrapf(ErrBadDate, "day in %q", s)
	}
	month, ok := lookupMonth(fields[1])
	if !ok {
		return 0, 0, 0, errors.Wrapf(ErrBadDate, "month in %q", s)
	}
	year, err = strconv.Atoi(fields[2])
	if err != nil || year < 1900 {
		return 0, 0, 0, errors.Wrapf(ErrBadDate, "year in %q", s)
	}
	// Reject days time.Date would silently roll over, like 31 April.
	if time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Day() != day {
		return 0, 0, 0, errors.Wrapf(ErrBadDate, "%q", s)
	}
	return year, month, day, nil
}

// ParseClock reads "hh:mm" followed by an optional AM/PM marker (ص / م also
// accepted). With a marker, a PM hour below 12 adds 12 and 12 AM is midnight.
func ParseClock(s string) (hour, minute int, err error) {
	v := strings.TrimSpace(foldArabic(s))
	marker := ""
	for token, m := range timeMarkers {
		if strings.HasSuffix(v, token) {
			marker = m
			v = strings.TrimSpace(strings.TrimSuffix(v, token))
			break
		}
	}

	hh, mm, ok := strings.Cut(v, ":")
	if !ok {
		return 0, 0, errors.Wrapf(ErrBadTime, "%q", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil {
		return 0, 0, errors.Wrapf(ErrBadTime, "hour in %q", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errors.Wrapf(ErrBadTime, "minute in %q", s)
	}

	switch marker {
	case "":
		if hour < 0 || hour > 23 {
			return 0, 0, errors.Wrapf(ErrBadTime, "hour in %q", s)
		}
	default:
		if hour < 0 || hour > 12 {
			return 0, 0, errors.Wrapf(ErrBadTime, "hour in %q", s)
		}
		if marker == markerPM && hour < 12 {
			hour += 12
		}
		if marker == markerAM && hour == 12 {
			hour = 0
		}
	}
	return hour, minute, nil
}

// ParseInstant combines an event date and time. Both parts are required.
func ParseInstant(date, clock string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(date) == "" || strings.TrimSpace(clock) == "" {
		return time.Time{}, errors.New("missing date or time")
	}
	y, mo, d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	h, mi, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(y, mo, d, h, mi, 0, 0, loc), nil
}
