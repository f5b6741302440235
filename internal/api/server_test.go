package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"netzwaechter/internal/dashboard"
	"netzwaechter/internal/energy"
	"netzwaechter/internal/meter"
	"netzwaechter/internal/storage"

	"github.com/gorilla/websocket"
)

type fakeObjects map[int64]meter.Mapping

func (f fakeObjects) ObjectMeters(_ context.Context, id int64) (meter.Mapping, error) {
	if m, ok := f[id]; ok {
		return m, nil
	}
	return nil, storage.ErrObjectNotFound
}

type fakeSettings struct{ cfg dashboard.Config }

func (f fakeSettings) Dashboard(context.Context) (dashboard.Config, error) {
	return f.cfg, nil
}

// fakeLocal serves two monthly rows and records every query.
type fakeLocal struct {
	mu      sync.Mutex
	queries []storage.MonthlyQuery
}

func (f *fakeLocal) MonthlyReadings(_ context.Context, q storage.MonthlyQuery) ([]storage.MonthlyReading, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return []storage.MonthlyReading{
		{Time: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), MeterID: q.MeterID, Log: q.Log, EnFirst: 120, EnLast: 150, DiffEn: 30},
		{Time: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), MeterID: q.MeterID, Log: q.Log, EnFirst: 100, EnLast: 120, DiffEn: 20},
	}, nil
}

func (f *fakeLocal) DailyReadings(context.Context, int64, time.Time, time.Time) ([]storage.DailyReading, error) {
	return nil, nil
}

func (f *fakeLocal) last() storage.MonthlyQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return storage.MonthlyQuery{}
	}
	return f.queries[len(f.queries)-1]
}

// fakeReadings holds the day_comp rows of all objects, newest first.
type fakeReadings struct {
	mu    sync.Mutex
	rows  []storage.DailyReading
	query storage.DayCompQuery
}

func (f *fakeReadings) DayComp(_ context.Context, q storage.DayCompQuery) ([]storage.DailyReading, error) {
	f.mu.Lock()
	f.query = q
	f.mu.Unlock()
	var out []storage.DailyReading
	for _, r := range f.rows {
		if r.Log == q.ObjectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReadings) LatestDayComp(_ context.Context, objectID int64) (*storage.DailyReading, error) {
	for _, r := range f.rows {
		if r.Log == objectID {
			return &r, nil
		}
	}
	return nil, storage.ErrNoReadings
}

func (f *fakeReadings) lastQuery() storage.DayCompQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query
}

type testServer struct {
	*Server
	local    *fakeLocal
	readings *fakeReadings
}

func newTestServer() *Server {
	return newRecordingServer().Server
}

func newRecordingServer() testServer {
	scheme := meter.DefaultScheme()
	local := &fakeLocal{}
	readings := &fakeReadings{rows: []storage.DailyReading{
		{Time: time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC), MeterID: 49785048, Log: 1, EnFirst: 500, EnLast: 540, FltMean: 70, RetMean: 50, PowMax: 12.5},
		{Time: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), MeterID: 49785048, Log: 1, EnFirst: 470, EnLast: 500, FltMean: 68, RetMean: 48, PowMax: 11},
	}}
	agg := energy.NewAggregator(energy.AggregatorConfig{
		Resolver: energy.NewResolver(energy.ResolverConfig{Local: local}),
		Scheme:   scheme,
	})
	s := NewServer(ServerConfig{
		Objects: fakeObjects{
			1: {"Z20541": "49785048", "Z20141": "49733048"},
			2: {"Z20541": "49785048"},
		},
		Readings: readings,
		Settings: fakeSettings{cfg: dashboard.Config{
			BaseURL:       "https://graf.example.com",
			DashboardPath: "d-solo/abc123/heat",
			DiagramPanel:  &dashboard.PanelRef{ID: 3, Label: "Energy"},
			Network:       &dashboard.NetworkLayout{OverviewPanelID: 16},
		}},
		Aggregator: agg,
		Scheme:     scheme,
	})
	return testServer{Server: s, local: local, readings: readings}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestAllMeters(t *testing.T) {
	rec := get(t, newTestServer(), "/api/v1/energy/all-meters/1?timeRange=2024")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}

	var body struct {
		ObjectID int64                         `json:"objectId"`
		Meters   map[string]energy.MeterSeries `json:"meters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ObjectID != 1 || len(body.Meters) != 2 {
		t.Fatalf("body = %+v", body)
	}
	net := body.Meters["Z20541"]
	if net.Source != energy.SourceLocal || net.Category != meter.Network || len(net.Data) != 2 {
		t.Errorf("network series = %+v", net)
	}
	// The newest bucket carries the diff of the month before it.
	if net.Data[0].EnergyDiff != 20 || net.Data[1].EnergyDiff != 0 {
		t.Errorf("diffs = %v, %v", net.Data[0].EnergyDiff, net.Data[1].EnergyDiff)
	}
}

func TestErrors(t *testing.T) {
	s := newTestServer()
	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/energy/all-meters/abc", http.StatusBadRequest},
		{"/api/v1/energy/all-meters/9", http.StatusNotFound},
		{"/api/v1/energy/specific-meter/not-a-number/1", http.StatusBadRequest},
		{"/api/v1/energy/specific-meter/49785048/1?fromDate=2024-13-01&toDate=2024-12-31", http.StatusBadRequest},
		{"/api/v1/energy/specific-meter/49785048/1?toDate=2024-02-30", http.StatusBadRequest},
		{"/api/v1/energy/daily-consumption-data/9", http.StatusNotFound},
		{"/api/v1/energy/daily-consumption/abc", http.StatusBadRequest},
		{"/api/v1/energy/day-comp/1?startDate=yesterday", http.StatusBadRequest},
		{"/api/v1/energy/day-comp/9/latest", http.StatusNotFound},
		{"/api/v1/energy/object/1?endDate=2025-3-1", http.StatusBadRequest},
		{"/api/v1/energy/latest/1", http.StatusServiceUnavailable},
		{"/api/v1/dashboard/9/tabs", http.StatusNotFound},
		{"/api/v1/dashboard/1/tabs?tab=7", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := get(t, s, tt.path); rec.Code != tt.code {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.code)
		}
	}
}

func TestSpecificMeter(t *testing.T) {
	rec := get(t, newTestServer(), "/api/v1/energy/specific-meter/49785048/1?key=Z20541&fromDate=2025-01-01&toDate=2025-02-10")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var series energy.MeterSeries
	if err := json.Unmarshal(rec.Body.Bytes(), &series); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if series.MeterID != "49785048" || series.Name != "Network 1" || len(series.Data) != 2 {
		t.Errorf("series = %+v", series)
	}
}

func TestSpecificMeterSingleBound(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		from, to time.Time
	}{
		{"from only", "fromDate=2025-01-15", time.Date(2025, 1, 15, 0, 0, 0, 0, time.Local), time.Time{}},
		{"to only", "toDate=2025-02-10", time.Time{}, time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)},
		{"to only in december", "toDate=2024-12-31", time.Time{}, time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newRecordingServer()
			rec := get(t, s.Server, "/api/v1/energy/specific-meter/49785048/1?"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d body %s", rec.Code, rec.Body)
			}
			q := s.local.last()
			if !q.From.Equal(tt.from) || !q.To.Equal(tt.to) {
				t.Errorf("bounds = %s .. %s, want %s .. %s", q.From, q.To, tt.from, tt.to)
			}
			if q.Limit != 0 {
				t.Errorf("limit = %d, want none", q.Limit)
			}
		})
	}
}

func TestDayComp(t *testing.T) {
	s := newRecordingServer()

	rec := get(t, s.Server, "/api/v1/energy/day-comp/1?startDate=2025-03-01&endDate=2025-03-31")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var rows []storage.DailyReading
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[0].PowMax != 12.5 {
		t.Errorf("rows = %+v", rows)
	}
	q := s.readings.lastQuery()
	if q.ObjectID != 1 || q.From.IsZero() || q.To.IsZero() {
		t.Errorf("query = %+v", q)
	}

	// A single bound is ignored on this route.
	get(t, s.Server, "/api/v1/energy/day-comp/1?startDate=2025-03-01")
	if q := s.readings.lastQuery(); !q.From.IsZero() || !q.To.IsZero() {
		t.Errorf("single bound query = %+v", q)
	}

	rec = get(t, s.Server, "/api/v1/energy/day-comp/1/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("latest status = %d", rec.Code)
	}
	var latest storage.DailyReading
	if err := json.Unmarshal(rec.Body.Bytes(), &latest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if latest.EnLast != 540 {
		t.Errorf("latest = %+v", latest)
	}
}

func TestDailyStatistics(t *testing.T) {
	rec := get(t, newTestServer(), "/api/v1/energy/daily-consumption/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var stats []energy.DailyStat
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d stats", len(stats))
	}
	want := energy.DailyStat{Date: "2025-03-02", Consumption: 40, AvgTemp: 60, MaxPower: 12.5}
	if stats[0] != want {
		t.Errorf("stats[0] = %+v, want %+v", stats[0], want)
	}
}

func TestObjectDays(t *testing.T) {
	s := newRecordingServer()

	get(t, s.Server, "/api/v1/energy/object/1?startDate=2025-03-01")
	q := s.readings.lastQuery()
	if !q.From.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)) || !q.To.IsZero() || q.Limit != objectDayLimit {
		t.Errorf("start only query = %+v", q)
	}

	get(t, s.Server, "/api/v1/energy/object/1?endDate=2025-03-31")
	q = s.readings.lastQuery()
	if !q.From.IsZero() || !q.To.Equal(time.Date(2025, 3, 31, 0, 0, 0, 0, time.Local)) {
		t.Errorf("end only query = %+v", q)
	}

	before := time.Now()
	rec := get(t, s.Server, "/api/v1/energy/object/1?startDate=2020-01-01&timeRange=1d")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	q = s.readings.lastQuery()
	if q.From.Before(before.Add(-25*time.Hour)) || q.From.After(time.Now()) {
		t.Errorf("lookback from = %s", q.From)
	}
}

func TestTabs(t *testing.T) {
	rec := get(t, newTestServer(), "/api/v1/dashboard/2/tabs?timeRange=30d")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}

	var state dashboard.State
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Mode != meter.SingleNetwork || len(state.Tabs) != 1 {
		t.Fatalf("state = %+v", state)
	}
	panels := state.Tabs[0].Panels
	if len(panels) != 2 {
		t.Fatalf("got %d panels", len(panels))
	}
	if !strings.Contains(panels[1].URL, "from=now-30d&to=now") || !strings.Contains(panels[1].URL, "var-id=49785048") {
		t.Errorf("main url = %s", panels[1].URL)
	}
	if len(state.Schedule) != 2 || state.Schedule[1].Delay != dashboard.StaggerDelay {
		t.Errorf("schedule = %+v", state.Schedule)
	}
}

func TestTimeRanges(t *testing.T) {
	rec := get(t, newTestServer(), "/api/v1/time-ranges")
	var body struct {
		Default string                `json:"default"`
		Ranges  []dashboard.TimeRange `json:"ranges"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Default != "7d" || len(body.Ranges) != 9 {
		t.Errorf("body = %+v", body)
	}
}

func TestDashboardSession(t *testing.T) {
	s := newTestServer()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/dashboard/2/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() sessionReply {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var r sessionReply
		if err := conn.ReadJSON(&r); err != nil {
			t.Fatalf("read: %v", err)
		}
		return r
	}

	first := read()
	if first.Type != "state" || first.Session == "" || first.State == nil {
		t.Fatalf("first reply = %+v", first)
	}
	mainID := first.State.Tabs[0].Panels[1].ID

	send := func(msg sessionMessage) sessionReply {
		t.Helper()
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		return read()
	}

	r := send(sessionMessage{Type: "loaded", PanelID: mainID})
	if len(r.State.Loaded) != 1 || len(r.State.Schedule) != 1 {
		t.Fatalf("after loaded = %+v", r.State)
	}

	r = send(sessionMessage{Type: "timeRange", Value: "90d"})
	if r.State.TimeRange.Value != "90d" {
		t.Fatalf("time range = %+v", r.State.TimeRange)
	}
	// The loaded panel keeps its embed and only gets a new source.
	var update *dashboard.LoadStep
	for i := range r.State.Schedule {
		if r.State.Schedule[i].PanelID == mainID {
			update = &r.State.Schedule[i]
		}
	}
	if update == nil || !update.Update || !strings.Contains(update.URL, "from=now-90d") {
		t.Errorf("main panel step = %+v", update)
	}

	r = send(sessionMessage{Type: "reload", PanelID: mainID})
	if r.Type != "reload" || len(r.Sources) != 2 || r.Sources[0] != "about:blank" {
		t.Errorf("reload = %+v", r)
	}

	r = send(sessionMessage{Type: "bogus"})
	if r.Type != "error" || r.Session != first.Session {
		t.Errorf("bogus = %+v", r)
	}

	if s.sessions.Load() != 1 {
		t.Errorf("sessions = %d", s.sessions.Load())
	}
}

func TestExternalObjectSeries(t *testing.T) {
	rec := get(t, newTestServer(), "/api/v1/energy/external/1?limit=6")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body)
	}
	var body struct {
		Source energy.Source    `json:"source"`
		Data   []energy.Reading `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Object series use the closing counters and are not shifted.
	if body.Source != energy.SourceLocal || len(body.Data) != 2 || body.Data[0].Energy != 150 || body.Data[0].EnergyDiff != 30 {
		t.Errorf("body = %+v", body)
	}
}
