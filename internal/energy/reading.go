package energy

import (
	"time"

	"netzwaechter/internal/meter"
	"netzwaechter/internal/storage"
)

type Source string

const (
	SourceExternal  Source = "external"
	SourceLocal     Source = "local"
	SourceSynthetic Source = "synthetic"
	SourceNone      Source = "none"
)

// Reading is one monthly bucket of a meter or object.
type Reading struct {
	ID         int64     `json:"id"`
	ObjectID   int64     `json:"objectId"`
	Time       time.Time `json:"time"`
	Energy     float64   `json:"energy"`
	Volume     float64   `json:"volume"`
	EnergyDiff float64   `json:"energyDiff"`
	VolumeDiff float64   `json:"volumeDiff"`
	Month      string    `json:"month"`
}

type MeterSeries struct {
	Key      string         `json:"key,omitempty"`
	MeterID  string         `json:"meterId"`
	Category meter.Category `json:"category"`
	Name     string         `json:"name"`
	Source   Source         `json:"source"`
	Data     []Reading      `json:"data"`
	Error    string         `json:"error,omitempty"`
}

func monthLabel(t time.Time) string {
	return t.Format("01.2006")
}

// fromRows converts monthly view rows. Meter series report the counter at
// the start of the month, object series the counter at its end.
func fromRows(rows []storage.MonthlyReading, atEnd bool) []Reading {
	out := make([]Reading, 0, len(rows))
	for _, row := range rows {
		r := Reading{
			ID:         row.MeterID,
			ObjectID:   row.Log,
			Time:       row.Time,
			Energy:     row.EnFirst,
			Volume:     row.VolFirst,
			EnergyDiff: row.DiffEn,
			VolumeDiff: row.DiffVol,
			Month:      monthLabel(row.Time),
		}
		if atEnd {
			r.Energy, r.Volume = row.EnLast, row.VolLast
		}
		out = append(out, r)
	}
	return out
}

// ShiftDiffs moves every bucket's diff values one month forward: each
// bucket gets the diffs of the bucket before it and the oldest gets zero.
// Input and output are newest first.
func ShiftDiffs(in []Reading) []Reading {
	out := make([]Reading, len(in))
	copy(out, in)
	for i := 0; i < len(out)-1; i++ {
		out[i].EnergyDiff = in[i+1].EnergyDiff
		out[i].VolumeDiff = in[i+1].VolumeDiff
	}
	if n := len(out); n > 0 {
		out[n-1].EnergyDiff = 0
		out[n-1].VolumeDiff = 0
	}
	return out
}
