package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"netzwaechter/internal/energy"
	"netzwaechter/internal/meter"

	log "github.com/sirupsen/logrus"
)

type ObjectProvider interface {
	ObjectMeters(ctx context.Context, objectID int64) (meter.Mapping, error)
}

type Publisher interface {
	PublishSeries(objectID int64, series map[string]energy.MeterSeries) error
}

// Snapshot is the last aggregation of one object.
type Snapshot struct {
	ObjectID    int64                         `json:"objectId"`
	TimeRange   string                        `json:"timeRange"`
	CollectedAt time.Time                     `json:"collectedAt"`
	Series      map[string]energy.MeterSeries `json:"series"`
}

// Collector periodically aggregates a fixed set of objects, keeps the
// latest result per object and publishes it.
type Collector struct {
	aggregator *energy.Aggregator
	objects    ObjectProvider
	publisher  Publisher
	interval   time.Duration
	enabled    bool
	objectIDs  []int64
	timeRange  string

	mu           sync.RWMutex
	latest       map[int64]Snapshot
	isCollecting bool
}

type CollectorConfig struct {
	Aggregator *energy.Aggregator
	Objects    ObjectProvider
	Publisher  Publisher
	Interval   time.Duration
	Enabled    bool
	ObjectIDs  []int64
	TimeRange  string
}

func NewCollector(cfg CollectorConfig) *Collector {
	return &Collector{
		aggregator: cfg.Aggregator,
		objects:    cfg.Objects,
		publisher:  cfg.Publisher,
		interval:   cfg.Interval,
		enabled:    cfg.Enabled,
		objectIDs:  cfg.ObjectIDs,
		timeRange:  cfg.TimeRange,
		latest:     make(map[int64]Snapshot),
	}
}

func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled {
		log.Info("Collector is disabled")
		return nil
	}
	if c.interval <= 0 {
		return fmt.Errorf("invalid collector interval %s", c.interval)
	}

	c.mu.Lock()
	c.isCollecting = true
	c.mu.Unlock()

	log.WithFields(log.Fields{"interval": c.interval, "objects": len(c.objectIDs)}).Info("Starting collector")

	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Collector stopped")
			c.mu.Lock()
			c.isCollecting = false
			c.mu.Unlock()
			return nil
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	for _, id := range c.objectIDs {
		if ctx.Err() != nil {
			return
		}
		snap, err := c.CollectOnce(ctx, id)
		if err != nil {
			log.WithField("object", id).WithError(err).Warn("Collection failed")
			continue
		}
		log.WithFields(log.Fields{"object": id, "meters": len(snap.Series)}).Info("Collected")
	}
}

// CollectOnce aggregates one object, stores the snapshot and publishes it.
func (c *Collector) CollectOnce(ctx context.Context, objectID int64) (Snapshot, error) {
	m, err := c.objects.ObjectMeters(ctx, objectID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load meters: %w", err)
	}

	series, err := c.aggregator.FetchAllMeters(ctx, objectID, m, c.timeRange)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		ObjectID:    objectID,
		TimeRange:   c.timeRange,
		CollectedAt: time.Now(),
		Series:      series,
	}

	c.mu.Lock()
	c.latest[objectID] = snap
	c.mu.Unlock()

	if c.publisher != nil {
		if err := c.publisher.PublishSeries(objectID, series); err != nil {
			log.WithField("object", objectID).WithError(err).Warn("Error publishing to MQTT")
		}
	}
	return snap, nil
}

func (c *Collector) Latest(objectID int64) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.latest[objectID]
	return snap, ok
}

func (c *Collector) IsCollecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isCollecting
}
