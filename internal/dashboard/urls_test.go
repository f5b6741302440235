package dashboard

import (
	"strings"
	"testing"
	"time"

	"netzwaechter/internal/meter"
)

func queryParam(u, name string) string {
	_, query, _ := strings.Cut(u, "?")
	for _, part := range strings.Split(query, "&") {
		if k, v, ok := strings.Cut(part, "="); ok && k == name {
			return v
		}
	}
	return ""
}

func TestRewriteTimeRangeIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	u := testConfig().PanelURL(3, "1001")

	for _, r := range TimeRanges(now) {
		once := RewriteTimeRange(u, r)
		twice := RewriteTimeRange(once, r)
		if once != twice {
			t.Errorf("%s: not idempotent\n%s\n%s", r.Value, once, twice)
		}
		if queryParam(once, "from") != r.From || queryParam(once, "to") != r.To {
			t.Errorf("%s: got from=%s to=%s", r.Value, queryParam(once, "from"), queryParam(once, "to"))
		}
	}
}

func TestRewriteTimeRangePreservesOtherParams(t *testing.T) {
	now := time.Now()
	before := testConfig().PanelURL(42, "49733048")
	after := RewriteTimeRange(before, LookupTimeRange("30d", now))

	if after == before {
		t.Fatal("url did not change")
	}
	for _, name := range []string{"orgId", "panelId", "var-id", "__feature", "kiosk", "refresh"} {
		if queryParam(before, name) != queryParam(after, name) {
			t.Errorf("%s changed: %q -> %q", name, queryParam(before, name), queryParam(after, name))
		}
	}

	// Everything except the from/to values is byte-identical.
	strip := func(u string) string {
		u = fromParam.ReplaceAllString(u, "${1}from=")
		return toParam.ReplaceAllString(u, "${1}to=")
	}
	if strip(before) != strip(after) {
		t.Errorf("non-time parts differ\n%s\n%s", strip(before), strip(after))
	}
}

func TestRewriteTimeRangeWithoutTimeParams(t *testing.T) {
	u := "https://graf.example.com/d/x?orgId=1&panelId=3"
	if got := RewriteTimeRange(u, LookupTimeRange("30d", time.Now())); got != u {
		t.Errorf("url without time params changed: %s", got)
	}
}

func TestLookupTimeRange(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if r := LookupTimeRange("now-2y/y", now); r.Label != "2023" || r.From != "now-2y/y" {
		t.Errorf("two years back = %+v", r)
	}
	if r := LookupTimeRange("bogus", now); r.Value != "7d" {
		t.Errorf("unknown token resolved to %+v", r)
	}
}

func TestFindPanelForMeterOrder(t *testing.T) {
	panels := []Panel{
		{ID: "panel-a", OriginalID: "Z20141", MeterID: "500"},
		{ID: "panel-b", OriginalID: "Z20142", MeterID: "600"},
		{ID: "panel-c", OriginalID: "Z20143", MeterID: "700.0"},
	}

	// Key match wins over an id match on an earlier panel.
	got := FindPanelForMeter(panels, PanelMeter{Key: "Z20142", ID: "500"})
	if got == nil || got.ID != "panel-b" {
		t.Errorf("key lookup = %+v", got)
	}

	got = FindPanelForMeter(panels, PanelMeter{Key: "nope", ID: "500"})
	if got == nil || got.ID != "panel-a" {
		t.Errorf("id lookup = %+v", got)
	}

	got = FindPanelForMeter(panels, PanelMeter{Key: "nope", ID: " 700"})
	if got == nil || got.ID != "panel-c" {
		t.Errorf("coerced lookup = %+v", got)
	}

	if got := FindPanelForMeter(panels, PanelMeter{Key: "nope", ID: "1"}); got != nil {
		t.Errorf("expected no match, got %+v", got)
	}
}

func TestFindPanelForMeterStaysInTab(t *testing.T) {
	layout := NewComposer(testConfig(), meter.DefaultScheme()).
		Compose(1, meter.Mapping{"Z20541": "1", "Z20542": "2"}, 0)
	if len(layout.Tabs) != 2 {
		t.Fatalf("got %d tabs", len(layout.Tabs))
	}

	first, second := layout.Tabs[0], layout.Tabs[1]
	for _, m := range second.Meters {
		if p := FindPanelForMeter(first.Panels, m); p != nil {
			t.Errorf("meter %s of second tab matched panel %s of first tab", m.Key, p.ID)
		}
		p := FindPanelForMeter(second.Panels, m)
		if p == nil || p.OriginalID != m.Key {
			t.Errorf("meter %s: got %+v", m.Key, p)
		}
	}
}
