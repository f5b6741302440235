package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"netzwaechter/internal/dashboard"
	"netzwaechter/internal/storage"

	log "github.com/sirupsen/logrus"
)

const (
	KeyGrafana    = "defaultGrafana"
	KeyNetwork    = "netzwaechter"
	KeyHistogram  = "histogram"
	KeyDataSource = "dbEnergyData_view_mon_comp"
	CategoryData  = "data"

	DefaultTable   = "view_mon_comp"
	DefaultTimeout = 10 * time.Second
	defaultPort    = 5432
)

// Store is the read side of the settings table.
type Store interface {
	Setting(ctx context.Context, category, key string) (*storage.Setting, error)
}

// Defaults fill in dashboard settings missing from the store.
type Defaults struct {
	BaseURL       string
	DashboardPath string
	TimeParams    string
}

// DataSource describes the external database holding the monthly view.
type DataSource struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	Database          string        `json:"database"`
	Username          string        `json:"username"`
	Password          string        `json:"-"`
	SSL               bool          `json:"ssl"`
	Table             string        `json:"table"`
	ConnectionTimeout time.Duration `json:"connectionTimeout"`
}

type Reader struct {
	store    Store
	defaults Defaults
}

func NewReader(store Store, defaults Defaults) *Reader {
	return &Reader{store: store, defaults: defaults}
}

// load decodes one setting into v. found is false when the row is missing
// or its value cannot be decoded.
func (r *Reader) load(ctx context.Context, category, key string, v any) (bool, error) {
	s, err := r.store.Setting(ctx, category, key)
	if errors.Is(err, storage.ErrSettingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(s.Value), v); err != nil {
		log.WithField("key", key).WithError(err).Warn("Ignoring malformed setting")
		return false, nil
	}
	return true, nil
}

// DataSource returns the external source, or nil when none is configured.
func (r *Reader) DataSource(ctx context.Context) (*DataSource, error) {
	var raw struct {
		dataSourceJSON
		Nested *dataSourceJSON `json:"dbEnergyData"`
	}
	ok, err := r.load(ctx, CategoryData, KeyDataSource, &raw)
	if err != nil || !ok {
		return nil, err
	}

	src := raw.dataSourceJSON
	if raw.Nested != nil {
		src = *raw.Nested
	}
	if strings.TrimSpace(src.Host) == "" {
		return nil, nil
	}

	ds := &DataSource{
		Host:              src.Host,
		Port:              int(src.Port),
		Database:          src.Database,
		Username:          src.Username,
		Password:          src.Password,
		SSL:               src.SSL,
		Table:             src.Table,
		ConnectionTimeout: time.Duration(src.ConnectionTimeout) * time.Millisecond,
	}
	if ds.Port == 0 {
		ds.Port = defaultPort
	}
	if ds.Table == "" {
		ds.Table = DefaultTable
	}
	if ds.ConnectionTimeout <= 0 {
		ds.ConnectionTimeout = DefaultTimeout
	}
	return ds, nil
}

// Dashboard assembles the composer configuration. Missing panel settings
// stay nil so the composer can omit the affected tabs.
func (r *Reader) Dashboard(ctx context.Context) (dashboard.Config, error) {
	cfg := dashboard.Config{
		BaseURL:       r.defaults.BaseURL,
		DashboardPath: r.defaults.DashboardPath,
		TimeParams:    r.defaults.TimeParams,
	}

	var g grafanaJSON
	ok, err := r.load(ctx, "", KeyGrafana, &g)
	if err != nil {
		return cfg, err
	}
	if ok && g.Setup != nil {
		g.Setup.apply(&cfg)
	}

	var n networkJSON
	ok, err = r.load(ctx, "", KeyNetwork, &n)
	if err != nil {
		return cfg, err
	}
	if ok {
		cfg.Network = &dashboard.NetworkLayout{
			OverviewPanelID:   int(n.PanelID),
			Height:            int(n.Height),
			HistogramHeight:   int(n.HistogramHeight),
			HistogramPanelIDs: flexInts(n.Histogram),
		}
	}

	var h histogramJSON
	ok, err = r.load(ctx, "", KeyHistogram, &h)
	if err != nil {
		return cfg, err
	}
	if ok {
		cfg.PanelOptions = h.options()
	}

	return cfg, nil
}

type dataSourceJSON struct {
	Host              string  `json:"host"`
	Port              flexInt `json:"port"`
	Database          string  `json:"database"`
	Username          string  `json:"username"`
	Password          string  `json:"password"`
	SSL               bool    `json:"ssl"`
	Table             string  `json:"table"`
	ConnectionTimeout flexInt `json:"connectionTimeout"`
}

type grafanaJSON struct {
	Setup *setupGrafana `json:"setupGrafana"`
}

type setupGrafana struct {
	BaseURL          string                    `json:"baseUrl"`
	DefaultDashboard string                    `json:"defaultDashboard"`
	DefaultInterval  string                    `json:"defaultInterval"`
	TempPanelID      flexInt                   `json:"TempDiagrammPanelId"`
	TempPanelLabel   string                    `json:"TempDiagrammPanelIdLabel"`
	DefaultPanels    []defaultPanel            `json:"defaultPanelid"`
	HistogramConfig  []dashboard.HistogramSpec `json:"histogramConfig"`
}

type defaultPanel struct {
	DiagramPanelID flexInt `json:"diagrammPanelId"`
	Label          string  `json:"label"`
	TempPanelID    flexInt `json:"TempDiagrammPanelId"`
	TempPanelLabel string  `json:"TempDiagrammPanelIdLabel"`
}

func (s *setupGrafana) apply(cfg *dashboard.Config) {
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}
	if s.DefaultDashboard != "" {
		cfg.DashboardPath = s.DefaultDashboard
	}
	if s.DefaultInterval != "" {
		cfg.TimeParams = s.DefaultInterval
	}
	if s.TempPanelID > 0 {
		cfg.TemperaturePanel = &dashboard.PanelRef{ID: int(s.TempPanelID), Label: s.TempPanelLabel}
	}
	for _, p := range s.DefaultPanels {
		if cfg.DiagramPanel == nil && p.DiagramPanelID > 0 && p.Label != "" {
			cfg.DiagramPanel = &dashboard.PanelRef{ID: int(p.DiagramPanelID), Label: p.Label}
		}
		if cfg.TemperaturePanel == nil && p.TempPanelID > 0 && p.TempPanelLabel != "" {
			cfg.TemperaturePanel = &dashboard.PanelRef{ID: int(p.TempPanelID), Label: p.TempPanelLabel}
		}
	}
	cfg.Histograms = s.HistogramConfig
}

type networkJSON struct {
	PanelID         flexInt   `json:"panelId"`
	Height          flexInt   `json:"height"`
	HistogramHeight flexInt   `json:"histogramHeight"`
	Histogram       []flexInt `json:"histogram"`
}

// histogramJSON accepts the current panelID/label layout and the older
// histogram/bezeichnung one.
type histogramJSON struct {
	PanelID     []flexInt `json:"panelID"`
	Label       []string  `json:"label"`
	Histogram   []flexInt `json:"histogram"`
	Bezeichnung []string  `json:"bezeichnung"`
}

func (h histogramJSON) options() []dashboard.PanelRef {
	ids, labels, prefix := h.PanelID, h.Label, ""
	if len(ids) == 0 {
		ids, labels, prefix = h.Histogram, h.Bezeichnung, "Histogram "
	}
	var out []dashboard.PanelRef
	for i, id := range ids {
		if i >= len(labels) || labels[i] == "" || id <= 0 {
			continue
		}
		out = append(out, dashboard.PanelRef{ID: int(id), Label: prefix + labels[i]})
	}
	return out
}

// flexInt decodes numbers, numeric strings and CSS sizes like "250px".
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	s := string(data)
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(unquoted), "px")
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	*f = flexInt(n)
	return nil
}

func flexInts(in []flexInt) []int {
	out := make([]int, 0, len(in))
	for _, v := range in {
		if v > 0 {
			out = append(out, int(v))
		}
	}
	return out
}
