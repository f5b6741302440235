package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"netzwaechter/internal/meter"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const MonthlyTable = "view_mon_comp"

var (
	ErrObjectNotFound  = errors.New("object not found")
	ErrSettingNotFound = errors.New("setting not found")
	ErrNoReadings      = errors.New("no readings found")

	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

type Database struct {
	db *gorm.DB
}

// MonthlyQuery selects monthly rows of one meter (MeterID) or one object
// (Log). Zero From/To means no date bound; Limit <= 0 means no limit.
type MonthlyQuery struct {
	MeterID int64
	Log     int64
	Limit   int
	From    time.Time
	To      time.Time
}

func NewDatabase(path string) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Object{}, &MonthlyReading{}, &DailyReading{}, &Setting{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

// ValidTable reports whether name is safe to splice into a query as a
// table identifier.
func ValidTable(name string) bool {
	return tableName.MatchString(name)
}

// QueryMonthly runs q against table on any connection with the monthly
// view's column layout, newest first.
func QueryMonthly(ctx context.Context, db *gorm.DB, table string, q MonthlyQuery) ([]MonthlyReading, error) {
	if !ValidTable(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	tx := db.WithContext(ctx).Table(table)
	switch {
	case q.MeterID != 0:
		tx = tx.Where("id = ?", q.MeterID)
	case q.Log != 0:
		tx = tx.Where("log = ?", q.Log)
	default:
		return nil, errors.New("monthly query needs a meter or object id")
	}
	if !q.From.IsZero() {
		tx = tx.Where("_time >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("_time <= ?", q.To)
	}
	tx = tx.Order("_time desc")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []MonthlyReading
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return rows, nil
}

func (d *Database) MonthlyReadings(ctx context.Context, q MonthlyQuery) ([]MonthlyReading, error) {
	return QueryMonthly(ctx, d.db, MonthlyTable, q)
}

// DailyReadings returns the daily rows of one meter in [from, to), oldest first.
func (d *Database) DailyReadings(ctx context.Context, meterID int64, from, to time.Time) ([]DailyReading, error) {
	var rows []DailyReading
	result := d.db.WithContext(ctx).
		Where("id = ? AND _time >= ? AND _time < ?", meterID, from, to).
		Order("_time asc").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query daily readings: %w", result.Error)
	}
	return rows, nil
}

// DayCompQuery selects the daily rows of one object (log). Zero From/To
// means no bound; Limit <= 0 means no limit.
type DayCompQuery struct {
	ObjectID int64
	From     time.Time
	To       time.Time
	Limit    int
}

// DayComp returns the daily rows of an object, newest first.
func (d *Database) DayComp(ctx context.Context, q DayCompQuery) ([]DailyReading, error) {
	tx := d.db.WithContext(ctx).Where("log = ?", q.ObjectID)
	if !q.From.IsZero() {
		tx = tx.Where("_time >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("_time <= ?", q.To)
	}
	tx = tx.Order("_time desc")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []DailyReading
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query day_comp: %w", err)
	}
	return rows, nil
}

// LatestDayComp returns the newest daily row of an object.
func (d *Database) LatestDayComp(ctx context.Context, objectID int64) (*DailyReading, error) {
	var row DailyReading
	result := d.db.WithContext(ctx).Where("log = ?", objectID).Order("_time desc").First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("object %d: %w", objectID, ErrNoReadings)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &row, nil
}

// ObjectMeters returns the meter mapping of an object.
func (d *Database) ObjectMeters(ctx context.Context, objectID int64) (meter.Mapping, error) {
	var obj Object
	result := d.db.WithContext(ctx).Where("objectid = ?", objectID).First(&obj)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("object %d: %w", objectID, ErrObjectNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return meter.ParseMapping([]byte(obj.Meter))
}

// Setting looks up a setting by key. An empty category matches any.
func (d *Database) Setting(ctx context.Context, category, key string) (*Setting, error) {
	tx := d.db.WithContext(ctx).Where("key_name = ?", key)
	if category != "" {
		tx = tx.Where("category = ?", category)
	}

	var s Setting
	result := tx.Order("updated_at desc").First(&s)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", category, key, ErrSettingNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &s, nil
}

func (d *Database) SaveObject(ctx context.Context, obj *Object) error {
	return d.db.WithContext(ctx).Save(obj).Error
}

func (d *Database) SaveSetting(ctx context.Context, s *Setting) error {
	return d.db.WithContext(ctx).Save(s).Error
}

func (d *Database) SaveMonthly(ctx context.Context, rows []MonthlyReading) error {
	if len(rows) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).Create(&rows).Error
}

func (d *Database) SaveDaily(ctx context.Context, rows []DailyReading) error {
	if len(rows) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).Create(&rows).Error
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
