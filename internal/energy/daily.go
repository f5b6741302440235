package energy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"netzwaechter/internal/meter"
	"netzwaechter/internal/storage"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// DailyPoint is one day of a meter. Energy is the day's consumption,
// MeterReading the counter at the end of the day.
type DailyPoint struct {
	Date         string  `json:"date"`
	Energy       float64 `json:"energy"`
	Volume       float64 `json:"volume"`
	MeterReading float64 `json:"meterReading"`
}

// DailyStat summarizes one day of an object.
type DailyStat struct {
	Date        string  `json:"date"`
	Consumption float64 `json:"consumption"`
	AvgTemp     float64 `json:"avgTemp"`
	MaxPower    float64 `json:"maxPower"`
}

// DailyStatistics derives the consumption, mean of flow and return
// temperature and peak power of each daily row.
func DailyStatistics(rows []storage.DailyReading) []DailyStat {
	return lo.Map(rows, func(row storage.DailyReading, _ int) DailyStat {
		return DailyStat{
			Date:        row.Time.Format(time.DateOnly),
			Consumption: row.EnLast - row.EnFirst,
			AvgTemp:     (row.FltMean + row.RetMean) / 2,
			MaxPower:    row.PowMax,
		}
	})
}

// DayCompSince is the lower bound for the 1d, 7d and 30d lookbacks of the
// object day view. Unknown tokens mean 7d.
func DayCompSince(token string, now time.Time) time.Time {
	switch token {
	case "1d":
		return now.Add(-24 * time.Hour)
	case "30d":
		return now.Add(-30 * 24 * time.Hour)
	default:
		return now.Add(-7 * 24 * time.Hour)
	}
}

// dailyMeter reports whether key is a physical meter with daily data.
// The object total and non-meter keys such as TempID are skipped.
func dailyMeter(key string) bool {
	return key != "ZLOGID" && strings.HasPrefix(key, "Z")
}

type DailySeries struct {
	Key      string         `json:"key"`
	MeterID  string         `json:"meterId"`
	Category meter.Category `json:"category"`
	Name     string         `json:"name"`
	Total    float64        `json:"total"`
	Data     []DailyPoint   `json:"data"`
	Error    string         `json:"error,omitempty"`
}

// DailyConsumption reads the daily consumption of every meter of m from
// the local store. Tokens are the same as for ParseWindow; the default is
// the last 365 days.
func (r *Resolver) DailyConsumption(ctx context.Context, m meter.Mapping, scheme meter.Scheme, token string) (map[string]DailySeries, Window, error) {
	if token == "" {
		token = "365d"
	}
	w := ParseWindow(token, r.now())
	out := make(map[string]DailySeries, len(m))

	for key, raw := range m {
		if !dailyMeter(key) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, w, err
		}
		category, _ := scheme.CategoryOf(key)
		ds := DailySeries{
			Key:      key,
			MeterID:  meter.ParseValue(raw, scheme.Separator).Resolve(key),
			Category: category,
			Name:     scheme.Name(key),
			Data:     []DailyPoint{},
		}

		id, err := strconv.ParseInt(ds.MeterID, 10, 64)
		if err != nil {
			ds.Error = fmt.Errorf("meter %q: %w", ds.MeterID, ErrInvalidMeterID).Error()
			out[key] = ds
			continue
		}

		rows, err := r.local.DailyReadings(ctx, id, w.From, w.To)
		if err != nil {
			log.WithFields(log.Fields{"key": key, "meter": id}).WithError(err).Warn("Daily query failed")
			ds.Error = err.Error()
			out[key] = ds
			continue
		}

		ds.Data = lo.Map(rows, func(row storage.DailyReading, _ int) DailyPoint {
			return DailyPoint{
				Date:         row.Time.Format(time.DateOnly),
				Energy:       row.EnLast - row.EnFirst,
				Volume:       row.DiffVol,
				MeterReading: row.EnLast,
			}
		})
		ds.Total = lo.SumBy(ds.Data, func(p DailyPoint) float64 { return p.Energy })
		out[key] = ds
	}
	return out, w, nil
}
