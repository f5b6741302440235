package dashboard

import (
	"strings"
	"testing"

	"netzwaechter/internal/meter"
)

func testScheme() meter.Scheme {
	s := meter.DefaultScheme()
	s.Rules = append(s.Rules, meter.Rule{Category: meter.Network, Prefix: "NET", Label: "Network", MaxOrdinal: 3})
	return s
}

func testConfig() Config {
	return Config{
		BaseURL:          "https://graf.example.com/",
		DashboardPath:    "d-solo/abc123/heat",
		TimeParams:       "&from=now-7d&to=now",
		DiagramPanel:     &PanelRef{ID: 3, Label: "Energy"},
		TemperaturePanel: &PanelRef{ID: 11, Label: "Flow/return"},
		Network: &NetworkLayout{
			OverviewPanelID:   16,
			Height:            250,
			HistogramHeight:   200,
			HistogramPanelIDs: []int{7, 8},
		},
		Histograms: []HistogramSpec{
			{Title: "Flow histogram", Suffix: "flow"},
			{Title: "Return histogram", Suffix: "return"},
		},
		PanelOptions: []PanelRef{{ID: 7, Label: "Histogram flow"}},
	}
}

func panelKeys(tab Tab) []string {
	keys := make([]string, 0, len(tab.Panels))
	for _, p := range tab.Panels {
		keys = append(keys, p.OriginalID)
	}
	return keys
}

func TestComposeSingleNetwork(t *testing.T) {
	c := NewComposer(testConfig(), testScheme())
	layout := c.Compose(100, meter.Mapping{"NET1": 1001}, 0)

	if layout.Mode != meter.SingleNetwork {
		t.Fatalf("mode = %v, want single-network", layout.Mode)
	}
	if len(layout.Tabs) != 1 {
		t.Fatalf("got %d tabs, want 1", len(layout.Tabs))
	}

	tab := layout.Tabs[0]
	want := []string{"NET1-overview", "NET1-main", "NET1-histogram-flow", "NET1-histogram-return"}
	got := panelKeys(tab)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("panels = %v, want %v", got, want)
	}
	for i, m := range tab.Meters {
		if m.Key != tab.Panels[i].OriginalID {
			t.Errorf("meter %d key %q does not join panel %q", i, m.Key, tab.Panels[i].OriginalID)
		}
	}

	mainURL := tab.Panels[1].URL
	wantURL := "https://graf.example.com/d-solo/abc123/heat?orgId=1&from=now-7d&to=now&panelId=3&var-id=1001&__feature=dashboardSceneSolo&kiosk=1&refresh=1m"
	if mainURL != wantURL {
		t.Errorf("main url\n got %s\nwant %s", mainURL, wantURL)
	}
	if tab.Panels[0].PanelID != 16 || tab.Meters[0].Height != 250 {
		t.Errorf("overview panel = %d height %d", tab.Panels[0].PanelID, tab.Meters[0].Height)
	}
	if tab.Panels[3].PanelID != 8 || tab.Meters[3].Title != "Return histogram" {
		t.Errorf("second histogram = %+v", tab.Meters[3])
	}
}

func TestComposeSingleNetworkWithoutHistogramConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Histograms = nil
	layout := NewComposer(cfg, meter.DefaultScheme()).Compose(1, meter.Mapping{"Z20541": "5", "Z20141": "6"}, 0)

	if len(layout.Tabs) != 2 {
		t.Fatalf("got %d tabs, want network + boiler", len(layout.Tabs))
	}
	if n := len(layout.Tabs[0].Panels); n != 2 {
		t.Errorf("network tab has %d panels, want overview + main only", n)
	}
	if layout.Tabs[1].ID != "boiler" {
		t.Errorf("second tab = %s", layout.Tabs[1].ID)
	}
}

func TestComposeSingleNetworkRepeatedHistogramSuffix(t *testing.T) {
	cfg := testConfig()
	cfg.Network.HistogramPanelIDs = []int{7, 8, 9}
	cfg.Histograms = []HistogramSpec{
		{Title: "Flow", Suffix: "flow"},
		{Title: "Flow again", Suffix: "flow"},
		{Title: "Third", Suffix: "flow-2"},
	}
	layout := NewComposer(cfg, testScheme()).Compose(100, meter.Mapping{"NET1": 1001}, 0)

	if len(layout.Tabs) != 1 {
		t.Fatalf("got %d tabs", len(layout.Tabs))
	}
	want := []string{"NET1-overview", "NET1-main", "NET1-histogram-flow", "NET1-histogram-flow-2", "NET1-histogram-flow-2-3"}
	got := panelKeys(layout.Tabs[0])
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("panels = %v, want %v", got, want)
	}
	ids := map[string]bool{}
	for _, p := range layout.Tabs[0].Panels {
		if ids[p.ID] {
			t.Errorf("duplicate panel id %s", p.ID)
		}
		ids[p.ID] = true
	}
}

func TestComposeEnhancedMultiNetwork(t *testing.T) {
	c := NewComposer(testConfig(), testScheme())
	layout := c.Compose(100, meter.Mapping{"NET1": 1001, "NET2": 1002, "NET3": 1003}, 0)

	if layout.Mode != meter.EnhancedMultiNetwork {
		t.Fatalf("mode = %v", layout.Mode)
	}
	if len(layout.Tabs) != 3 {
		t.Fatalf("got %d tabs, want 3", len(layout.Tabs))
	}
	for i, tab := range layout.Tabs {
		if len(tab.Panels) != 2 {
			t.Errorf("tab %s has %d panels", tab.ID, len(tab.Panels))
		}
		if tab.Panels[0].PanelID != 16 || tab.Panels[1].PanelID != 3 {
			t.Errorf("tab %s panel ids = %d, %d", tab.ID, tab.Panels[0].PanelID, tab.Panels[1].PanelID)
		}
		wantID := "network-NET" + string(rune('1'+i))
		if tab.ID != wantID {
			t.Errorf("tab %d id = %s, want %s", i, tab.ID, wantID)
		}
	}
}

func TestComposeEnhancedAppendsCategoryTabs(t *testing.T) {
	m := meter.Mapping{"Z20541": "1", "Z20542": "2", "Z20141": "3", "Z20142": "4", "Z20241": "5", "Z20221": "6"}
	layout := NewComposer(testConfig(), meter.DefaultScheme()).Compose(1, m, 0)

	var ids []string
	for _, tab := range layout.Tabs {
		ids = append(ids, tab.ID)
	}
	want := "network-Z20541,network-Z20542,boiler,heatpump"
	if strings.Join(ids, ",") != want {
		t.Fatalf("tabs = %v, want %s", ids, want)
	}

	boiler := layout.Tabs[2]
	if boiler.Meters[0].Header != "Boiler 1 (Z20141: 3)" {
		t.Errorf("boiler header = %q", boiler.Meters[0].Header)
	}
	if layout.Tabs[3].Meters[0].Header != "" {
		t.Errorf("single heat pump should have no header")
	}
}

func TestComposeStandard(t *testing.T) {
	m := meter.Mapping{"Z20542": "22", "Z20141": "3", "Z20130": "9", "X1": "7"}
	layout := NewComposer(testConfig(), meter.DefaultScheme()).Compose(1, m, 5)

	if layout.Mode != meter.Standard {
		t.Fatalf("mode = %v", layout.Mode)
	}
	var ids []string
	for _, tab := range layout.Tabs {
		ids = append(ids, tab.ID)
		if tab.PanelID != 5 {
			t.Errorf("tab %s panel = %d, want selected 5", tab.ID, tab.PanelID)
		}
	}
	if strings.Join(ids, ",") != "network,boiler,other" {
		t.Errorf("tabs = %v", ids)
	}
}

func TestComposeExplicitTemperature(t *testing.T) {
	c := NewComposer(testConfig(), meter.DefaultScheme())
	layout := c.Compose(4711, meter.Mapping{"TempID": "", "Z20451": "x", "Z20541": "1"}, 3)

	if layout.Mode != meter.ExplicitTemperature {
		t.Fatalf("mode = %v", layout.Mode)
	}
	if layout.ShowSelector {
		t.Error("temperature layout must hide the panel selector")
	}
	if len(layout.Options) != 1 || layout.Options[0].ID != 11 {
		t.Errorf("options = %+v", layout.Options)
	}
	if len(layout.Tabs) != 1 || len(layout.Tabs[0].Panels) != 1 {
		t.Fatalf("tabs = %+v", layout.Tabs)
	}
	p := layout.Tabs[0].Panels[0]
	if p.PanelID != 11 || !strings.Contains(p.URL, "&var-id=4711&") {
		t.Errorf("temperature panel = %+v", p)
	}
}

func TestComposeMissingConfigYieldsNoTabs(t *testing.T) {
	// Missing diagram panel
	cfg := testConfig()
	cfg.DiagramPanel = nil
	layout := NewComposer(cfg, meter.DefaultScheme()).Compose(1, meter.Mapping{"Z20141": "3"}, 0)
	if len(layout.Tabs) != 0 || layout.Reason != ReasonUnresolved {
		t.Errorf("missing diagram panel: %d tabs, reason %q", len(layout.Tabs), layout.Reason)
	}

	// Missing network settings
	cfg = testConfig()
	cfg.Network = nil
	layout = NewComposer(cfg, meter.DefaultScheme()).Compose(1, meter.Mapping{"Z20541": "1"}, 0)
	if len(layout.Tabs) != 0 || layout.Reason != ReasonUnresolved {
		t.Errorf("missing network settings: %d tabs, reason %q", len(layout.Tabs), layout.Reason)
	}

	// Missing temperature panel
	cfg = testConfig()
	cfg.TemperaturePanel = nil
	layout = NewComposer(cfg, meter.DefaultScheme()).Compose(1, meter.Mapping{"TempID": "5"}, 0)
	if len(layout.Tabs) != 0 {
		t.Errorf("missing temperature panel: %d tabs", len(layout.Tabs))
	}
}

func TestComposeNoMatchingKeys(t *testing.T) {
	c := NewComposer(testConfig(), meter.DefaultScheme())
	for _, m := range []meter.Mapping{{}, {"foo": 1}, {"Z99": "x", "bar": nil}} {
		layout := c.Compose(1, m, 0)
		if len(layout.Tabs) != 0 {
			t.Errorf("mapping %v gave %d tabs", m, len(layout.Tabs))
		}
		if layout.Reason != ReasonNoMeters {
			t.Errorf("mapping %v reason = %q", m, layout.Reason)
		}
	}
}
