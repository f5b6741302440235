package energy

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DefaultLimit = 12

// Window is the span of an energy query. Exact windows are bounded by
// From/To; rolling windows are bounded by Limit months.
type Window struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Limit int       `json:"limit"`
	Exact bool      `json:"exact"`
}

var (
	relativeToken = regexp.MustCompile(`^(?:now-)?(\d+)([hdwMy])$`)
	lastDaysToken = regexp.MustCompile(`^last-(\d+)-days$`)
	yearToken     = regexp.MustCompile(`^\d{4}$`)
)

const daysPerMonth = 30.4375

// CalendarYear is the exact window of one year.
func CalendarYear(year int, loc *time.Location) Window {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return Window{
		From:  from,
		To:    from.AddDate(1, 0, 0).Add(-time.Second),
		Limit: 12,
		Exact: true,
	}
}

// MonthRange is the exact window from the start of from's day up to the
// first day of the month after to. A zero bound leaves that side open.
func MonthRange(from, to time.Time) Window {
	w := Window{Exact: true}
	if !from.IsZero() {
		w.From = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	}
	if !to.IsZero() {
		w.To = time.Date(to.Year(), to.Month()+1, 1, 0, 0, 0, 0, to.Location())
	}
	return w
}

// ParseWindow maps a time-range token to a window. The previous two years
// (now-1y/y, now-2y/y, last-year, year-before-last) and four digit years
// are exact calendar years; everything else is a rolling lookback.
func ParseWindow(token string, now time.Time) Window {
	token = strings.TrimSpace(token)
	switch token {
	case "now-1y/y", "last-year":
		return CalendarYear(now.Year()-1, now.Location())
	case "now-2y/y", "year-before-last":
		return CalendarYear(now.Year()-2, now.Location())
	}
	if yearToken.MatchString(token) {
		year, _ := strconv.Atoi(token)
		return CalendarYear(year, now.Location())
	}

	if m := lastDaysToken.FindStringSubmatch(token); m != nil {
		token = m[1] + "d"
	}
	if m := relativeToken.FindStringSubmatch(token); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return rolling(n, m[2], now)
		}
	}
	return rolling(DefaultLimit, "M", now)
}

func rolling(n int, unit string, now time.Time) Window {
	w := Window{To: now}
	switch unit {
	case "h":
		w.From = now.Add(-time.Duration(n) * time.Hour)
		w.Limit = 1
	case "d":
		w.From = now.AddDate(0, 0, -n)
		w.Limit = int(math.Round(float64(n) / daysPerMonth))
	case "w":
		w.From = now.AddDate(0, 0, -7*n)
		w.Limit = int(math.Round(float64(7*n) / daysPerMonth))
	case "M":
		w.From = now.AddDate(0, -n, 0)
		w.Limit = n
	case "y":
		w.From = now.AddDate(-n, 0, 0)
		w.Limit = 12 * n
	}
	if w.Limit < 1 {
		w.Limit = 1
	}
	return w
}
