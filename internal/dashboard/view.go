package dashboard

import (
	"fmt"
	"sort"
	"time"

	"netzwaechter/internal/meter"

	"github.com/samber/lo"
)

const (
	StaggerDelay   = 100 * time.Millisecond
	HistogramDelay = 2 * time.Second
	blankSource    = "about:blank"
)

// LoadStep tells the client when to point an embed at URL. Update marks
// an embed that is already loaded and only changes its source.
type LoadStep struct {
	PanelID string        `json:"panelId"`
	URL     string        `json:"url"`
	Delay   time.Duration `json:"delay"`
	Update  bool          `json:"update,omitempty"`
}

type State struct {
	ObjectID     int64      `json:"objectId"`
	Mode         meter.Mode `json:"mode"`
	Tabs         []Tab      `json:"tabs"`
	Active       int        `json:"active"`
	TimeRange    TimeRange  `json:"timeRange"`
	PanelID      int        `json:"panelId"`
	Options      []PanelRef `json:"options"`
	ShowSelector bool       `json:"showSelector"`
	Reason       string     `json:"reason,omitempty"`
	Loaded       []string   `json:"loaded"`
	Failed       []string   `json:"failed"`
	Schedule     []LoadStep `json:"schedule"`
}

// View is the state of one open dashboard. It is not safe for concurrent
// use; a session owns exactly one View.
type View struct {
	composer  *Composer
	now       func() time.Time
	objectID  int64
	mapping   meter.Mapping
	panelID   int
	timeRange TimeRange
	layout    Layout
	active    int
	// loaded maps panel id to the URL its embed currently shows.
	loaded map[string]string
	failed map[string]bool
}

func NewView(c *Composer) *View {
	v := &View{
		composer: c,
		now:      time.Now,
		loaded:   map[string]string{},
		failed:   map[string]bool{},
	}
	v.timeRange = LookupTimeRange(DefaultTimeRange, v.now())
	return v
}

// SetObject switches the view to another object and rebuilds all tabs.
func (v *View) SetObject(objectID int64, m meter.Mapping) {
	v.objectID = objectID
	v.mapping = m
	v.active = 0
	v.loaded = map[string]string{}
	v.failed = map[string]bool{}
	v.rebuild()
}

// SelectPanel changes the main diagram panel and rebuilds the tabs.
func (v *View) SelectPanel(panelID int) {
	if panelID == v.panelID {
		return
	}
	v.panelID = panelID
	v.rebuild()
}

// SetTimeRange rewrites the time window of every panel URL in place.
func (v *View) SetTimeRange(value string) {
	v.timeRange = LookupTimeRange(value, v.now())
	for ti := range v.layout.Tabs {
		panels := v.layout.Tabs[ti].Panels
		for pi := range panels {
			panels[pi].URL = RewriteTimeRange(panels[pi].URL, v.timeRange)
		}
	}
}

func (v *View) SelectTab(index int) error {
	if index < 0 || index >= len(v.layout.Tabs) {
		return fmt.Errorf("tab %d out of range (%d tabs)", index, len(v.layout.Tabs))
	}
	v.active = index
	return nil
}

func (v *View) rebuild() {
	v.layout = v.composer.Compose(v.objectID, v.mapping, v.panelID)
	present := map[string]bool{}
	for ti := range v.layout.Tabs {
		panels := v.layout.Tabs[ti].Panels
		for pi := range panels {
			panels[pi].URL = RewriteTimeRange(panels[pi].URL, v.timeRange)
			present[panels[pi].ID] = true
		}
	}
	for id := range v.loaded {
		if !present[id] {
			delete(v.loaded, id)
		}
	}
	for id := range v.failed {
		if !present[id] {
			delete(v.failed, id)
		}
	}
	if v.active >= len(v.layout.Tabs) {
		v.active = 0
	}
}

func (v *View) ActiveTab() (Tab, bool) {
	if v.active >= len(v.layout.Tabs) {
		return Tab{}, false
	}
	return v.layout.Tabs[v.active], true
}

// Schedule lists the embeds of the active tab that need a source change.
// Panels are staggered by index and histograms wait for the primary panels.
func (v *View) Schedule() []LoadStep {
	tab, ok := v.ActiveTab()
	if !ok {
		return []LoadStep{}
	}
	steps := []LoadStep{}
	histograms := 0
	for i, p := range tab.Panels {
		delay := time.Duration(i) * StaggerDelay
		if i < len(tab.Meters) && tab.Meters[i].PanelType == PanelHistogram {
			delay = HistogramDelay + time.Duration(histograms)*StaggerDelay
			histograms++
		}
		shown, loaded := v.loaded[p.ID]
		if loaded && shown == p.URL {
			continue
		}
		steps = append(steps, LoadStep{PanelID: p.ID, URL: p.URL, Delay: delay, Update: loaded})
	}
	return steps
}

func (v *View) panel(panelID string) (Panel, bool) {
	for _, t := range v.layout.Tabs {
		for _, p := range t.Panels {
			if p.ID == panelID {
				return p, true
			}
		}
	}
	return Panel{}, false
}

func (v *View) MarkLoaded(panelID string) error {
	p, ok := v.panel(panelID)
	if !ok {
		return fmt.Errorf("unknown panel %q", panelID)
	}
	v.loaded[panelID] = p.URL
	delete(v.failed, panelID)
	return nil
}

func (v *View) MarkFailed(panelID string) error {
	if _, ok := v.panel(panelID); !ok {
		return fmt.Errorf("unknown panel %q", panelID)
	}
	v.failed[panelID] = true
	delete(v.loaded, panelID)
	return nil
}

// Reload returns the source sequence that forces one embed to load again.
func (v *View) Reload(panelID string) ([]string, error) {
	p, ok := v.panel(panelID)
	if !ok {
		return nil, fmt.Errorf("unknown panel %q", panelID)
	}
	delete(v.failed, panelID)
	delete(v.loaded, panelID)
	return []string{blankSource, p.URL}, nil
}

func (v *View) State() State {
	return State{
		ObjectID:     v.objectID,
		Mode:         v.layout.Mode,
		Tabs:         v.layout.Tabs,
		Active:       v.active,
		TimeRange:    v.timeRange,
		PanelID:      v.panelID,
		Options:      v.layout.Options,
		ShowSelector: v.layout.ShowSelector,
		Reason:       v.layout.Reason,
		Loaded:       sortedKeys(v.loaded),
		Failed:       sortedKeys(v.failed),
		Schedule:     v.Schedule(),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
