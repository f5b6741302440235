package dashboard

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	soloEmbedFlag     = "__feature=dashboardSceneSolo"
	defaultTimeParams = "from=now-7d&to=now"
)

type PanelRef struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

type HistogramSpec struct {
	Title  string `json:"title"`
	Suffix string `json:"suffix"`
}

// NetworkLayout holds the panels of the network-monitor tabs.
type NetworkLayout struct {
	OverviewPanelID   int   `json:"overviewPanelId"`
	Height            int   `json:"height"`
	HistogramHeight   int   `json:"histogramHeight"`
	HistogramPanelIDs []int `json:"histogramPanelIds"`
}

// Config is everything the composer needs from the settings store. Nil
// panel references mean the setting is missing.
type Config struct {
	BaseURL          string          `json:"baseUrl"`
	DashboardPath    string          `json:"dashboardPath"`
	TimeParams       string          `json:"timeParams"`
	DiagramPanel     *PanelRef       `json:"diagramPanel,omitempty"`
	TemperaturePanel *PanelRef       `json:"temperaturePanel,omitempty"`
	Network          *NetworkLayout  `json:"network,omitempty"`
	Histograms       []HistogramSpec `json:"histograms,omitempty"`
	PanelOptions     []PanelRef      `json:"panelOptions,omitempty"`
}

func (c Config) timeParams() string {
	p := strings.TrimLeft(strings.TrimSpace(c.TimeParams), "&?")
	if p == "" {
		return defaultTimeParams
	}
	return p
}

// PanelURL builds the solo-embed URL of one panel bound to one meter.
func (c Config) PanelURL(panelID int, meterID string) string {
	return fmt.Sprintf("%s/%s?orgId=1&%s&panelId=%d&var-id=%s&%s&kiosk=1&refresh=1m",
		strings.TrimRight(c.BaseURL, "/"),
		strings.Trim(c.DashboardPath, "/"),
		c.timeParams(),
		panelID,
		url.QueryEscape(meterID),
		soloEmbedFlag,
	)
}

func (c Config) optionLabel(panelID int) string {
	if c.DiagramPanel != nil && c.DiagramPanel.ID == panelID && c.DiagramPanel.Label != "" {
		return c.DiagramPanel.Label
	}
	for _, o := range c.PanelOptions {
		if o.ID == panelID && o.Label != "" {
			return o.Label
		}
	}
	return "Diagram"
}
