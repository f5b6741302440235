package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"netzwaechter/internal/collector"
	"netzwaechter/internal/dashboard"
	"netzwaechter/internal/energy"
	"netzwaechter/internal/meter"
	"netzwaechter/internal/storage"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	dateLayout = "2006-01-02"
	// objectDayLimit caps the rows of the object day view.
	objectDayLimit = 500
)

type ObjectStore interface {
	ObjectMeters(ctx context.Context, objectID int64) (meter.Mapping, error)
}

// ReadingStore serves the per-object daily rows.
type ReadingStore interface {
	DayComp(ctx context.Context, q storage.DayCompQuery) ([]storage.DailyReading, error)
	LatestDayComp(ctx context.Context, objectID int64) (*storage.DailyReading, error)
}

type DashboardSettings interface {
	Dashboard(ctx context.Context) (dashboard.Config, error)
}

type Server struct {
	router     *gin.Engine
	server     *http.Server
	collector  *collector.Collector
	objects    ObjectStore
	readings   ReadingStore
	settings   DashboardSettings
	aggregator *energy.Aggregator
	scheme     meter.Scheme
	limit      int
	port       int
	sessions   atomic.Int64
}

type ServerConfig struct {
	Port       int
	Collector  *collector.Collector
	Objects    ObjectStore
	Readings   ReadingStore
	Settings   DashboardSettings
	Aggregator *energy.Aggregator
	Scheme     meter.Scheme
	// DefaultLimit is the month count of series requests without a window.
	DefaultLimit int
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	s := &Server{
		router:     router,
		collector:  cfg.Collector,
		objects:    cfg.Objects,
		readings:   cfg.Readings,
		settings:   cfg.Settings,
		aggregator: cfg.Aggregator,
		scheme:     cfg.Scheme,
		limit:      cfg.DefaultLimit,
		port:       cfg.Port,
	}
	if s.limit <= 0 {
		s.limit = energy.DefaultLimit
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api/v1")
	{
		api.GET("/energy/external/:objectId", s.externalEnergyHandler)
		api.GET("/energy/all-meters/:objectId", s.allMetersHandler)
		api.GET("/energy/specific-meter/:meterId/:objectId", s.specificMeterHandler)
		api.GET("/energy/daily-consumption/:objectId", s.dailyStatisticsHandler)
		api.GET("/energy/daily-consumption-data/:objectId", s.dailyConsumptionHandler)
		api.GET("/energy/day-comp/:objectId", s.dayCompHandler)
		api.GET("/energy/day-comp/:objectId/latest", s.latestDayCompHandler)
		api.GET("/energy/object/:objectId", s.objectDaysHandler)
		api.GET("/energy/latest/:objectId", s.latestHandler)

		api.GET("/time-ranges", s.timeRangesHandler)
		api.GET("/dashboard/:objectId/tabs", s.tabsHandler)
		api.GET("/dashboard/:objectId/ws", s.dashboardSocketHandler)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("Request")
	}
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	log.WithField("port", s.port).Info("API server starting")
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(c *gin.Context) {
	collecting := false
	if s.collector != nil {
		collecting = s.collector.IsCollecting()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"collecting": collecting,
		"sessions":   s.sessions.Load(),
		"timestamp":  time.Now(),
	})
}

func (s *Server) externalEnergyHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}
	limit, ok := s.limitParam(c)
	if !ok {
		return
	}

	series, err := s.aggregator.Resolver().FetchObjectSeries(c.Request.Context(), objectID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"objectId": objectID,
		"source":   series.Source,
		"data":     series.Data,
	})
}

func (s *Server) allMetersHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// Objects without stored meters may still be served by an override.
	m, lookupErr := s.objects.ObjectMeters(ctx, objectID)
	if lookupErr != nil && !errors.Is(lookupErr, storage.ErrObjectNotFound) {
		respondError(c, lookupErr)
		return
	}

	timeRange := c.DefaultQuery("timeRange", "now-1y")
	series, err := s.aggregator.FetchAllMeters(ctx, objectID, m, timeRange)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(series) == 0 && lookupErr != nil {
		respondError(c, lookupErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"objectId":  objectID,
		"timeRange": timeRange,
		"meters":    series,
	})
}

func (s *Server) specificMeterHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}

	w, ok := s.windowParams(c)
	if !ok {
		return
	}

	req := energy.SeriesRequest{
		ObjectID: objectID,
		MeterID:  c.Param("meterId"),
		Key:      c.Query("key"),
		Window:   w,
	}
	series, err := s.aggregator.Resolver().FetchMeterSeries(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Key != "" {
		category, _ := s.scheme.CategoryOf(req.Key)
		series.Category = category
		series.Name = s.scheme.Name(req.Key)
	}

	c.JSON(http.StatusOK, series)
}

func (s *Server) dailyConsumptionHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	m, err := s.objects.ObjectMeters(ctx, objectID)
	if err != nil {
		respondError(c, err)
		return
	}

	daily, w, err := s.aggregator.Resolver().DailyConsumption(ctx, m, s.scheme, c.Query("timeRange"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"objectId": objectID,
		"from":     w.From.Format(dateLayout),
		"to":       w.To.Format(dateLayout),
		"meters":   daily,
	})
}

func (s *Server) dayCompHandler(c *gin.Context) {
	q, ok := dayCompRange(c)
	if !ok {
		return
	}
	rows, err := s.readings.DayComp(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) latestDayCompHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}
	row, err := s.readings.LatestDayComp(c.Request.Context(), objectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) dailyStatisticsHandler(c *gin.Context) {
	q, ok := dayCompRange(c)
	if !ok {
		return
	}
	rows, err := s.readings.DayComp(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, energy.DailyStatistics(rows))
}

// objectDaysHandler filters each date bound on its own and narrows the
// lower bound further by the optional 1d/7d/30d lookback.
func (s *Server) objectDaysHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}
	q := storage.DayCompQuery{ObjectID: objectID, Limit: objectDayLimit}

	if q.From, ok = dateQuery(c, "startDate"); !ok {
		return
	}
	if q.To, ok = dateQuery(c, "endDate"); !ok {
		return
	}
	if tr := c.Query("timeRange"); tr != "" {
		if since := energy.DayCompSince(tr, time.Now()); since.After(q.From) {
			q.From = since
		}
	}

	rows, err := s.readings.DayComp(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) latestHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}

	if s.collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Collector is not running"})
		return
	}
	snap, found := s.collector.Latest(objectID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "No data available yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) timeRangesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default": dashboard.DefaultTimeRange,
		"ranges":  dashboard.TimeRanges(time.Now()),
	})
}

func (s *Server) tabsHandler(c *gin.Context) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return
	}
	panelID, ok := intQuery(c, "panelId", 0)
	if !ok {
		return
	}

	view, err := s.openView(c.Request.Context(), objectID, panelID, c.Query("timeRange"))
	if err != nil {
		respondError(c, err)
		return
	}
	tab, ok := intQuery(c, "tab", 0)
	if !ok {
		return
	}
	if tab != 0 {
		if err := view.SelectTab(tab); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, view.State())
}

// openView builds the dashboard view of one object from the stored meter
// mapping and the current dashboard settings.
func (s *Server) openView(ctx context.Context, objectID int64, panelID int, timeRange string) (*dashboard.View, error) {
	m, err := s.objects.ObjectMeters(ctx, objectID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.Dashboard(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dashboard settings: %w", err)
	}

	view := dashboard.NewView(dashboard.NewComposer(cfg, s.scheme))
	view.SetObject(objectID, m)
	if panelID > 0 {
		view.SelectPanel(panelID)
	}
	if timeRange != "" {
		view.SetTimeRange(timeRange)
	}
	return view, nil
}

// windowParams reads fromDate/toDate, either of which may be given alone,
// then timeRange, then limit.
func (s *Server) windowParams(c *gin.Context) (energy.Window, bool) {
	from, ok := dateQuery(c, "fromDate")
	if !ok {
		return energy.Window{}, false
	}
	to, ok := dateQuery(c, "toDate")
	if !ok {
		return energy.Window{}, false
	}
	if !from.IsZero() || !to.IsZero() {
		if !from.IsZero() && !to.IsZero() && to.Before(from) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "'toDate' is before 'fromDate'"})
			return energy.Window{}, false
		}
		return energy.MonthRange(from, to), true
	}

	if tr := c.Query("timeRange"); tr != "" {
		return energy.ParseWindow(tr, time.Now()), true
	}

	limit, ok := s.limitParam(c)
	if !ok {
		return energy.Window{}, false
	}
	return energy.Window{Limit: limit}, true
}

// dayCompRange reads the object id and the startDate/endDate pair. The
// bounds only apply when both are given.
func dayCompRange(c *gin.Context) (storage.DayCompQuery, bool) {
	objectID, ok := objectIDParam(c)
	if !ok {
		return storage.DayCompQuery{}, false
	}
	q := storage.DayCompQuery{ObjectID: objectID}
	from, ok := dateQuery(c, "startDate")
	if !ok {
		return q, false
	}
	to, ok := dateQuery(c, "endDate")
	if !ok {
		return q, false
	}
	if !from.IsZero() && !to.IsZero() {
		q.From, q.To = from, to
	}
	return q, true
}

// dateQuery parses an optional YYYY-MM-DD query value. Absent values
// return the zero time.
func dateQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid '%s' format", name)})
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) limitParam(c *gin.Context) (int, bool) {
	limit, ok := intQuery(c, "limit", s.limit)
	if !ok {
		return 0, false
	}
	if limit <= 0 || limit > 120 {
		limit = s.limit
	}
	return limit, true
}

func objectIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("objectId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid object id"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid '%s'", name)})
		return 0, false
	}
	return n, true
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrObjectNotFound), errors.Is(err, storage.ErrNoReadings):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, energy.ErrInvalidMeterID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
