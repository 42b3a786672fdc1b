package preprocess

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// KST is the zone all user-facing dates are interpreted in.
var KST = time.FixedZone("KST", 9*60*60)

// DateRange is an inclusive [From, To] day interval in canonical form.
type DateRange struct {
	From string
	To   string
}

var (
	reFullDate  = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`)
	reYearMonth = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월`)
	reISODate   = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
)

// ExtractDateRange detects an explicit or relative date expression in a query
// and returns the matching day range in KST. The second return is false when
// the query carries no recognizable date expression.
//
// Relative keywords resolve against now: 오늘, 어제, 내일, 지난주, 이번주,
// 지난달, 이번달. Weeks start on Monday. A full 년/월/일 date is checked
// before the year-month form so "2024년 5월 15일" yields a single day rather
// than the whole month.
func ExtractDateRange(query string, now time.Time) (DateRange, bool) {
	now = now.In(KST)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, KST)

	switch {
	case strings.Contains(query, "오늘"):
		return dayRange(today, today), true
	case strings.Contains(query, "어제"):
		d := today.AddDate(0, 0, -1)
		return dayRange(d, d), true
	case strings.Contains(query, "내일"):
		d := today.AddDate(0, 0, 1)
		return dayRange(d, d), true
	case strings.Contains(query, "지난주"):
		start := weekStart(today).AddDate(0, 0, -7)
		return dayRange(start, start.AddDate(0, 0, 6)), true
	case strings.Contains(query, "이번주"):
		start := weekStart(today)
		return dayRange(start, start.AddDate(0, 0, 6)), true
	case strings.Contains(query, "지난달"):
		first := today.AddDate(0, 0, 1-today.Day())
		prev := first.AddDate(0, -1, 0)
		return dayRange(prev, first.AddDate(0, 0, -1)), true
	case strings.Contains(query, "이번달"):
		first := today.AddDate(0, 0, 1-today.Day())
		return dayRange(first, first.AddDate(0, 1, -1)), true
	}

	if m := reFullDate.FindStringSubmatch(query); m != nil {
		if d, ok := makeDay(m[1], m[2], m[3]); ok {
			return dayRange(d, d), true
		}
	}
	if m := reYearMonth.FindStringSubmatch(query); m != nil {
		if d, ok := makeDay(m[1], m[2], "1"); ok {
			return dayRange(d, d.AddDate(0, 1, -1)), true
		}
	}
	if m := reISODate.FindStringSubmatch(query); m != nil {
		if d, ok := makeDay(m[1], m[2], m[3]); ok {
			return dayRange(d, d), true
		}
	}
	return DateRange{}, false
}

func weekStart(day time.Time) time.Time {
	return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
}

func makeDay(y, m, d string) (time.Time, bool) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	dom, _ := strconv.Atoi(d)
	if month < 1 || month > 12 || dom < 1 || dom > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), dom, 0, 0, 0, 0, KST)
	// Reject normalized overflow like 2월 30일.
	if t.Day() != dom || t.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return t, true
}

func dayRange(from, to time.Time) DateRange {
	return DateRange{From: from.Format("2006-01-02"), To: to.Format("2006-01-02")}
}

// InRange reports whether the canonical date falls inside r. Dates that fail
// to parse are out of range.
func (r DateRange) InRange(date string) bool {
	if date == "" {
		return false
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return false
	}
	return date >= r.From && date <= r.To
}
