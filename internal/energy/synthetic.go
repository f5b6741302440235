package energy

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"time"
)

// Profile is the monthly base consumption of a synthetic meter and the
// width of its random jitter.
type Profile struct {
	Base     float64
	Variance float64
}

var (
	defaultProfile = Profile{Base: 5000, Variance: 1000}
	profiles       = map[string]Profile{
		"Z20130": {Base: 3500, Variance: 800},
		"Z20141": {Base: 4200, Variance: 600},
		"Z20142": {Base: 3800, Variance: 550},
		"Z20221": {Base: 8500, Variance: 1200},
		"Z20241": {Base: 7800, Variance: 900},
		"Z20541": {Base: 12000, Variance: 1500},
		"ZLOGID": {Base: 15000, Variance: 2000},
	}
)

func ProfileFor(key string) Profile {
	if p, ok := profiles[key]; ok {
		return p
	}
	return defaultProfile
}

// Synthesize generates a monthly series for demo objects, newest first.
// The output depends only on its arguments. Exact windows cover the
// months of From's year (To's when From is open); rolling windows count
// Limit months back from now.
func Synthesize(objectID int64, meterID string, p Profile, w Window, now time.Time) []Reading {
	rng := rand.New(rand.NewSource(seed(objectID, meterID)))
	id, _ := strconv.ParseInt(meterID, 10, 64)

	var months []time.Time
	if w.Exact {
		anchor := w.From
		if anchor.IsZero() {
			anchor = w.To.AddDate(0, 0, -1)
		}
		start := time.Date(anchor.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		for i := 11; i >= 0; i-- {
			months = append(months, start.AddDate(0, i, 0))
		}
	} else {
		limit := w.Limit
		if limit <= 0 {
			limit = DefaultLimit
		}
		current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < limit; i++ {
			months = append(months, current.AddDate(0, -i, 0))
		}
	}

	out := make([]Reading, 0, len(months))
	for _, m := range months {
		seasonal := 1 + 0.3*math.Cos(float64(m.Month()-1)/12*2*math.Pi)
		energy := nonNegative(p.Base*seasonal + (rng.Float64()-0.5)*p.Variance)
		volume := nonNegative(energy*0.18 + (rng.Float64()-0.5)*100)
		out = append(out, Reading{
			ID:         id,
			ObjectID:   objectID,
			Time:       m,
			Energy:     energy,
			Volume:     volume,
			EnergyDiff: nonNegative(energy*0.1 + (rng.Float64()-0.5)*200),
			VolumeDiff: nonNegative(volume*0.1 + (rng.Float64()-0.5)*50),
			Month:      monthLabel(m),
		})
	}
	return out
}

func seed(objectID int64, meterID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(objectID, 10)))
	h.Write([]byte{'/'})
	h.Write([]byte(meterID))
	return int64(h.Sum64())
}

func nonNegative(v float64) float64 {
	return math.Max(0, math.Round(v*100)/100)
}
