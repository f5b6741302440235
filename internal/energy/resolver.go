package energy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"netzwaechter/internal/meter"
	"netzwaechter/internal/settings"
	"netzwaechter/internal/storage"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrInvalidMeterID = errors.New("meter id is not numeric")

// SourceProvider supplies the external source configuration; nil means
// none is configured.
type SourceProvider interface {
	DataSource(ctx context.Context) (*settings.DataSource, error)
}

type LocalStore interface {
	MonthlyReadings(ctx context.Context, q storage.MonthlyQuery) ([]storage.MonthlyReading, error)
	DailyReadings(ctx context.Context, meterID int64, from, to time.Time) ([]storage.DailyReading, error)
}

type ResolverConfig struct {
	Sources SourceProvider
	Local   LocalStore
	// Open defaults to OpenPostgres.
	Open Opener
	// Synthetic enables generated series for DemoObjects when no store
	// has data. Production deployments leave it off.
	Synthetic   bool
	DemoObjects []int64
	Now         func() time.Time
}

// Resolver reads monthly series from the external source, the local store
// or, for demo objects, the synthetic generator, in that order.
type Resolver struct {
	sources   SourceProvider
	local     LocalStore
	open      Opener
	synthetic bool
	demo      map[int64]bool
	now       func() time.Time
}

type SeriesRequest struct {
	ObjectID int64
	MeterID  string
	// Key selects the synthetic profile.
	Key    string
	Window Window
}

func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		sources:   cfg.Sources,
		local:     cfg.Local,
		open:      cfg.Open,
		synthetic: cfg.Synthetic,
		demo:      make(map[int64]bool, len(cfg.DemoObjects)),
		now:       cfg.Now,
	}
	if r.open == nil {
		r.open = OpenPostgres
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, id := range cfg.DemoObjects {
		r.demo[id] = true
	}
	return r
}

// SyntheticEnabled reports whether generated series may be served.
func (r *Resolver) SyntheticEnabled() bool {
	return r.synthetic
}

func (r *Resolver) isDemo(objectID int64) bool {
	return r.synthetic && r.demo[objectID]
}

// FetchMeterSeries returns the monthly series of one meter, newest first.
// The diff values are shifted one bucket, see ShiftDiffs. An error means
// neither store could be queried.
func (r *Resolver) FetchMeterSeries(ctx context.Context, req SeriesRequest) (MeterSeries, error) {
	series := MeterSeries{Key: req.Key, MeterID: req.MeterID, Source: SourceNone, Data: []Reading{}}

	id, err := strconv.ParseInt(req.MeterID, 10, 64)
	if err != nil {
		return series, fmt.Errorf("meter %q: %w", req.MeterID, ErrInvalidMeterID)
	}

	q := storage.MonthlyQuery{MeterID: id, Limit: req.Window.Limit}
	if req.Window.Exact {
		q.From, q.To = req.Window.From, req.Window.To
	}

	rows, source, err := r.monthly(ctx, q)
	if err != nil {
		return series, err
	}
	if len(rows) > 0 {
		series.Source = source
		series.Data = ShiftDiffs(fromRows(rows, false))
		return series, nil
	}

	if r.isDemo(req.ObjectID) {
		log.WithFields(log.Fields{"object": req.ObjectID, "meter": req.MeterID}).Info("No stored data, serving synthetic series")
		series.Source = SourceSynthetic
		series.Data = Synthesize(req.ObjectID, req.MeterID, ProfileFor(req.Key), req.Window, r.now())
	}
	return series, nil
}

// FetchObjectSeries returns the object-level monthly series, newest first.
func (r *Resolver) FetchObjectSeries(ctx context.Context, objectID int64, limit int) (MeterSeries, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	objID := strconv.FormatInt(objectID, 10)
	series := MeterSeries{MeterID: objID, Category: meter.Other, Name: "Total", Source: SourceNone, Data: []Reading{}}

	rows, source, err := r.monthly(ctx, storage.MonthlyQuery{Log: objectID, Limit: limit})
	if err != nil {
		return series, err
	}
	if len(rows) > 0 {
		series.Source = source
		series.Data = fromRows(rows, true)
		return series, nil
	}
	if r.isDemo(objectID) {
		series.Source = SourceSynthetic
		series.Data = Synthesize(objectID, objID, ProfileFor("ZLOGID"), Window{Limit: limit}, r.now())
	}
	return series, nil
}

// monthly queries the external source and falls back to the local store
// when it is missing or fails.
func (r *Resolver) monthly(ctx context.Context, q storage.MonthlyQuery) ([]storage.MonthlyReading, Source, error) {
	fields := log.Fields{"meter": q.MeterID, "object": q.Log}

	var src *settings.DataSource
	if r.sources != nil {
		var err error
		src, err = r.sources.DataSource(ctx)
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("Failed to load external source settings")
		}
	}

	if src != nil {
		rows, err := r.external(ctx, *src, q)
		if err == nil {
			return rows, SourceExternal, nil
		}
		log.WithFields(fields).WithError(err).Warn("External source failed, using local store")
	}

	rows, err := r.local.MonthlyReadings(ctx, q)
	if err != nil {
		return nil, SourceNone, fmt.Errorf("local store: %w", err)
	}
	return rows, SourceLocal, nil
}

func (r *Resolver) external(ctx context.Context, src settings.DataSource, q storage.MonthlyQuery) ([]storage.MonthlyReading, error) {
	timeout := src.ConnectionTimeout
	if timeout <= 0 {
		timeout = settings.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rows []storage.MonthlyReading
	err := withConnection(ctx, r.open, src, func(db *gorm.DB) error {
		var err error
		rows, err = storage.QueryMonthly(ctx, db, src.Table, q)
		return err
	})
	return rows, err
}
