package dashboard

import (
	"errors"
	"fmt"
	"strconv"

	"netzwaechter/internal/meter"

	log "github.com/sirupsen/logrus"
)

var ErrPanelUnresolved = errors.New("panel identifier not configured")

const (
	ReasonUnresolved = "meter could not be resolved"
	ReasonNoMeters   = "no dashboard available"

	defaultPanelHeight = 220
)

type PanelType string

const (
	PanelOverview  PanelType = "overview"
	PanelMain      PanelType = "main"
	PanelHistogram PanelType = "histogram"
)

// PanelMeter is a meter as placed on a tab. Key is the join key to
// Panel.OriginalID; in special layouts it carries the panel role.
type PanelMeter struct {
	Key       string         `json:"key"`
	MeterKey  string         `json:"meterKey"`
	ID        string         `json:"id"`
	Category  meter.Category `json:"category"`
	Name      string         `json:"name"`
	PanelType PanelType      `json:"panelType,omitempty"`
	Title     string         `json:"title,omitempty"`
	Height    int            `json:"height,omitempty"`
	PanelID   int            `json:"panelId"`
	Header    string         `json:"header,omitempty"`
}

type Panel struct {
	ID         string `json:"id"`
	OriginalID string `json:"originalId"`
	MeterID    string `json:"meterId"`
	URL        string `json:"url"`
	PanelID    int    `json:"panelId"`
}

type Tab struct {
	ID            string       `json:"id"`
	Label         string       `json:"label"`
	Icon          string       `json:"icon"`
	PanelID       int          `json:"panelId"`
	SpecialLayout bool         `json:"specialLayout"`
	Meters        []PanelMeter `json:"meters"`
	Panels        []Panel      `json:"panels"`
}

type Layout struct {
	Mode         meter.Mode `json:"mode"`
	Tabs         []Tab      `json:"tabs"`
	Options      []PanelRef `json:"options"`
	ShowSelector bool       `json:"showSelector"`
	Reason       string     `json:"reason,omitempty"`
}

type categoryTab struct {
	id, label, icon string
}

var categoryTabs = map[meter.Category]categoryTab{
	meter.Network:  {"network", "Network", "share"},
	meter.Boiler:   {"boiler", "Boiler", "flame"},
	meter.HeatPump: {"heatpump", "Heat pump", "zap"},
	meter.Other:    {"other", "Other", "activity"},
}

type Composer struct {
	cfg    Config
	scheme meter.Scheme
}

func NewComposer(cfg Config, scheme meter.Scheme) *Composer {
	return &Composer{cfg: cfg, scheme: scheme}
}

// Compose builds the tabs of one object. selectedPanel 0 selects the
// configured default diagram panel.
func (c *Composer) Compose(objectID int64, m meter.Mapping, selectedPanel int) Layout {
	mode := meter.SelectMode(m, c.scheme)
	layout := Layout{
		Mode:         mode,
		Tabs:         []Tab{},
		Options:      c.Options(mode),
		ShowSelector: mode != meter.ExplicitTemperature,
	}

	ds := meter.Classify(m, c.scheme)
	if len(ds) == 0 {
		layout.Reason = ReasonNoMeters
		return layout
	}

	var (
		tabs []Tab
		err  error
	)
	switch mode {
	case meter.ExplicitTemperature:
		tabs, err = c.temperatureTabs(objectID, m)
	case meter.EnhancedMultiNetwork:
		tabs, err = c.enhancedTabs(ds, selectedPanel)
	case meter.SingleNetwork:
		tabs, err = c.singleNetworkTabs(ds, selectedPanel)
	default:
		tabs, err = c.standardTabs(ds, selectedPanel)
	}
	if err != nil {
		log.WithFields(log.Fields{"object": objectID, "mode": mode}).WithError(err).Warn("Dashboard tabs omitted")
		layout.Reason = ReasonUnresolved
		return layout
	}
	if len(tabs) == 0 {
		layout.Reason = ReasonNoMeters
		return layout
	}
	layout.Tabs = tabs
	return layout
}

// Options lists the panels offered by the diagram selector.
func (c *Composer) Options(mode meter.Mode) []PanelRef {
	if mode == meter.ExplicitTemperature {
		if c.cfg.TemperaturePanel == nil {
			return []PanelRef{}
		}
		return []PanelRef{*c.cfg.TemperaturePanel}
	}
	out := []PanelRef{}
	if c.cfg.DiagramPanel != nil {
		out = append(out, *c.cfg.DiagramPanel)
	}
	return append(out, c.cfg.PanelOptions...)
}

func (c *Composer) mainPanel(selected int) (int, error) {
	if selected > 0 {
		return selected, nil
	}
	if c.cfg.DiagramPanel == nil || c.cfg.DiagramPanel.ID <= 0 {
		return 0, fmt.Errorf("diagram panel: %w", ErrPanelUnresolved)
	}
	return c.cfg.DiagramPanel.ID, nil
}

func (c *Composer) network() (*NetworkLayout, error) {
	n := c.cfg.Network
	if n == nil || n.OverviewPanelID <= 0 {
		return nil, fmt.Errorf("network overview panel: %w", ErrPanelUnresolved)
	}
	return n, nil
}

func (c *Composer) temperatureTabs(objectID int64, m meter.Mapping) ([]Tab, error) {
	tp := c.cfg.TemperaturePanel
	if tp == nil || tp.ID <= 0 {
		return nil, fmt.Errorf("temperature panel: %w", ErrPanelUnresolved)
	}

	key := c.scheme.TemperatureKey
	id := strconv.FormatInt(objectID, 10)
	if v := meter.ParseValue(m[key], c.scheme.Separator); v.Kind != meter.Invalid {
		id = v.ID
	}

	pm := PanelMeter{
		Key:      key,
		MeterKey: key,
		ID:       id,
		Category: meter.Temperature,
		Name:     c.scheme.Name(key),
		Title:    tp.Label,
		PanelID:  tp.ID,
	}
	return []Tab{{
		ID:      "temperature",
		Label:   "Temperature",
		Icon:    "trending-up",
		PanelID: tp.ID,
		Meters:  []PanelMeter{pm},
		Panels:  []Panel{c.panel(pm)},
	}}, nil
}

func (c *Composer) enhancedTabs(ds []meter.Descriptor, selected int) ([]Tab, error) {
	main, err := c.mainPanel(selected)
	if err != nil {
		return nil, err
	}
	net, err := c.network()
	if err != nil {
		return nil, err
	}

	var tabs []Tab
	for _, d := range meter.ByCategory(ds, meter.Network) {
		meters := []PanelMeter{
			c.special(d, PanelOverview, "overview", "Overview", net.OverviewPanelID, heightOr(net.Height)),
			c.special(d, PanelMain, "main", c.cfg.optionLabel(main), main, 0),
		}
		tabs = append(tabs, c.tab("network-"+d.Key, d.Name, "share", main, true, meters))
	}
	return append(tabs, c.trailingTabs(ds, main)...), nil
}

func (c *Composer) singleNetworkTabs(ds []meter.Descriptor, selected int) ([]Tab, error) {
	main, err := c.mainPanel(selected)
	if err != nil {
		return nil, err
	}
	net, err := c.network()
	if err != nil {
		return nil, err
	}

	d := meter.ByCategory(ds, meter.Network)[0]
	meters := []PanelMeter{
		c.special(d, PanelOverview, "overview", "Overview", net.OverviewPanelID, heightOr(net.Height)),
		c.special(d, PanelMain, "main", c.cfg.optionLabel(main), main, 0),
	}
	// No histogram config means no histograms at all.
	if len(c.cfg.Histograms) > 0 {
		// Panel keys must stay unique, so a repeated suffix gets the index.
		seen := make(map[string]bool, len(net.HistogramPanelIDs))
		for i, pid := range net.HistogramPanelIDs {
			spec := HistogramSpec{Title: fmt.Sprintf("Histogram %d", i+1)}
			if i < len(c.cfg.Histograms) {
				spec = c.cfg.Histograms[i]
			}
			suffix := spec.Suffix
			if suffix == "" {
				suffix = strconv.Itoa(i + 1)
			}
			for seen[suffix] {
				suffix += "-" + strconv.Itoa(i+1)
			}
			seen[suffix] = true
			meters = append(meters, c.special(d, PanelHistogram, "histogram-"+suffix, spec.Title, pid, heightOr(net.HistogramHeight)))
		}
	}

	tabs := []Tab{c.tab("network", "Network", "share", main, true, meters)}
	return append(tabs, c.trailingTabs(ds, main)...), nil
}

func (c *Composer) standardTabs(ds []meter.Descriptor, selected int) ([]Tab, error) {
	main, err := c.mainPanel(selected)
	if err != nil {
		return nil, err
	}
	var tabs []Tab
	for _, cat := range []meter.Category{meter.Network, meter.Boiler, meter.HeatPump, meter.Other} {
		if t, ok := c.categoryTab(ds, cat, main); ok {
			tabs = append(tabs, t)
		}
	}
	return tabs, nil
}

// trailingTabs are the boiler and heat pump tabs appended after network tabs.
func (c *Composer) trailingTabs(ds []meter.Descriptor, main int) []Tab {
	var tabs []Tab
	for _, cat := range []meter.Category{meter.Boiler, meter.HeatPump} {
		if t, ok := c.categoryTab(ds, cat, main); ok {
			tabs = append(tabs, t)
		}
	}
	return tabs
}

func (c *Composer) categoryTab(ds []meter.Descriptor, cat meter.Category, main int) (Tab, bool) {
	group := meter.ByCategory(ds, cat)
	if len(group) == 0 {
		return Tab{}, false
	}
	meta := categoryTabs[cat]
	meters := make([]PanelMeter, 0, len(group))
	for _, d := range group {
		pm := PanelMeter{
			Key:      d.Key,
			MeterKey: d.Key,
			ID:       d.ID,
			Category: d.Category,
			Name:     d.Name,
			PanelID:  main,
		}
		if len(group) > 1 {
			pm.Header = fmt.Sprintf("%s (%s: %s)", d.Name, d.Key, d.ID)
		}
		meters = append(meters, pm)
	}
	return c.tab(meta.id, meta.label, meta.icon, main, false, meters), true
}

func (c *Composer) special(d meter.Descriptor, typ PanelType, role, title string, panelID, height int) PanelMeter {
	return PanelMeter{
		Key:       d.Key + "-" + role,
		MeterKey:  d.Key,
		ID:        d.ID,
		Category:  d.Category,
		Name:      d.Name,
		PanelType: typ,
		Title:     title,
		Height:    height,
		PanelID:   panelID,
	}
}

func (c *Composer) tab(id, label, icon string, panelID int, special bool, meters []PanelMeter) Tab {
	panels := make([]Panel, 0, len(meters))
	for _, pm := range meters {
		panels = append(panels, c.panel(pm))
	}
	return Tab{
		ID:            id,
		Label:         label,
		Icon:          icon,
		PanelID:       panelID,
		SpecialLayout: special,
		Meters:        meters,
		Panels:        panels,
	}
}

func (c *Composer) panel(pm PanelMeter) Panel {
	return Panel{
		ID:         "panel-" + pm.Key,
		OriginalID: pm.Key,
		MeterID:    pm.ID,
		URL:        c.cfg.PanelURL(pm.PanelID, pm.ID),
		PanelID:    pm.PanelID,
	}
}

func heightOr(h int) int {
	if h <= 0 {
		return defaultPanelHeight
	}
	return h
}
