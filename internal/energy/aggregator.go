package energy

import (
	"context"
	"sync"
	"time"

	"netzwaechter/internal/meter"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWorkers      = 8
	DefaultMeterTimeout = 15 * time.Second
)

type AggregatorConfig struct {
	Resolver     *Resolver
	Overrides    Overrides
	Scheme       meter.Scheme
	Workers      int
	MeterTimeout time.Duration
}

// Aggregator fetches the series of every meter of an object concurrently.
type Aggregator struct {
	resolver  *Resolver
	overrides Overrides
	scheme    meter.Scheme
	workers   int
	timeout   time.Duration
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	a := &Aggregator{
		resolver:  cfg.Resolver,
		overrides: cfg.Overrides,
		scheme:    cfg.Scheme,
		workers:   cfg.Workers,
		timeout:   cfg.MeterTimeout,
	}
	if a.workers <= 0 {
		a.workers = DefaultWorkers
	}
	if a.timeout <= 0 {
		a.timeout = DefaultMeterTimeout
	}
	return a
}

func (a *Aggregator) Resolver() *Resolver {
	return a.resolver
}

// FetchAllMeters returns one series per meter key of m. A meter that fails
// or times out gets an empty series with Error set; the call itself only
// fails when ctx is done.
func (a *Aggregator) FetchAllMeters(ctx context.Context, objectID int64, m meter.Mapping, timeRange string) (map[string]MeterSeries, error) {
	synthetic := false
	if ov, ok := a.overrides.Lookup(objectID); ok {
		log.WithField("object", objectID).Debug("Applying meter override")
		m = ov.Mapping()
		synthetic = ov.Synthetic && a.resolver.SyntheticEnabled()
	}

	now := a.resolver.now()
	w := ParseWindow(timeRange, now)

	var (
		mu      sync.Mutex
		results = make(map[string]MeterSeries, len(m))
		g       errgroup.Group
	)
	g.SetLimit(a.workers)

	for key, raw := range m {
		key, raw := key, raw
		g.Go(func() error {
			series := a.fetchOne(ctx, objectID, key, raw, w, synthetic, now)
			mu.Lock()
			results[key] = series
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (a *Aggregator) fetchOne(ctx context.Context, objectID int64, key string, raw any, w Window, synthetic bool, now time.Time) MeterSeries {
	category, _ := a.scheme.CategoryOf(key)
	id := meter.ParseValue(raw, a.scheme.Separator).Resolve(key)
	name := a.scheme.Name(key)

	if synthetic {
		return MeterSeries{
			Key:      key,
			MeterID:  id,
			Category: category,
			Name:     name,
			Source:   SourceSynthetic,
			Data:     Synthesize(objectID, id, ProfileFor(key), w, now),
		}
	}

	mctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	series, err := a.resolver.FetchMeterSeries(mctx, SeriesRequest{ObjectID: objectID, MeterID: id, Key: key, Window: w})
	series.Key, series.Category, series.Name = key, category, name
	if err != nil {
		log.WithFields(log.Fields{"object": objectID, "key": key, "meter": id}).WithError(err).Warn("Meter query failed")
		series.Data = []Reading{}
		series.Source = SourceNone
		series.Error = err.Error()
	}
	return series
}
