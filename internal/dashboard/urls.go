package dashboard

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	fromParam = regexp.MustCompile(`([?&])from=[^&]*`)
	toParam   = regexp.MustCompile(`([?&])to=[^&]*`)
)

// RewriteTimeRange swaps the from/to values of a panel URL and leaves every
// other byte as is. Applying it twice with the same range is a no-op.
func RewriteTimeRange(panelURL string, r TimeRange) string {
	panelURL = replaceParam(fromParam, panelURL, "from=", r.From)
	return replaceParam(toParam, panelURL, "to=", r.To)
}

func replaceParam(re *regexp.Regexp, s, name, value string) string {
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return match[:1] + name + value
	})
}

// FindPanelForMeter looks m up in one tab's panels: by join key, then by
// meter id, then by numerically coerced id. The first hit wins.
func FindPanelForMeter(panels []Panel, m PanelMeter) *Panel {
	for i := range panels {
		if panels[i].OriginalID == m.Key {
			return &panels[i]
		}
	}
	for i := range panels {
		if panels[i].MeterID == m.ID {
			return &panels[i]
		}
	}
	want := coerceID(m.ID)
	for i := range panels {
		if coerceID(panels[i].MeterID) == want {
			return &panels[i]
		}
	}
	return nil
}

func coerceID(id string) string {
	id = strings.TrimSpace(id)
	if f, err := strconv.ParseFloat(id, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return id
}
