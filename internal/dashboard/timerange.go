package dashboard

import (
	"strconv"
	"time"
)

const DefaultTimeRange = "7d"

// TimeRange maps a short token to the from/to values of the embed URL.
type TimeRange struct {
	Value string `json:"value"`
	Label string `json:"label"`
	From  string `json:"from"`
	To    string `json:"to"`
}

var relativeRanges = []TimeRange{
	{Value: "24h", Label: "Last 24 hours", From: "now-24h", To: "now"},
	{Value: "3d", Label: "Last 3 days", From: "now-3d", To: "now"},
	{Value: "7d", Label: "Last 7 days", From: "now-7d", To: "now"},
	{Value: "30d", Label: "Last 30 days", From: "now-30d", To: "now"},
	{Value: "90d", Label: "Last 90 days", From: "now-90d", To: "now"},
	{Value: "6M", Label: "Last 6 months", From: "now-6M", To: "now"},
	{Value: "1y", Label: "Last year", From: "now-1y", To: "now"},
}

// TimeRanges lists the selectable ranges: the relative lookbacks followed
// by the two previous calendar years.
func TimeRanges(now time.Time) []TimeRange {
	out := make([]TimeRange, 0, len(relativeRanges)+2)
	out = append(out, relativeRanges...)
	for back := 1; back <= 2; back++ {
		token := "now-" + strconv.Itoa(back) + "y/y"
		out = append(out, TimeRange{
			Value: token,
			Label: strconv.Itoa(now.Year() - back),
			From:  token,
			To:    token,
		})
	}
	return out
}

// LookupTimeRange resolves value, falling back to the 7 day range.
func LookupTimeRange(value string, now time.Time) TimeRange {
	var fallback TimeRange
	for _, r := range TimeRanges(now) {
		if r.Value == value {
			return r
		}
		if r.Value == DefaultTimeRange {
			fallback = r
		}
	}
	return fallback
}
