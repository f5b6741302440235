package storage

import (
	"time"
)

// Object is a monitored building installation with its meter mapping
// stored as a JSON object.
type Object struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	ObjectID int64  `gorm:"column:objectid;uniqueIndex" json:"objectid"`
	Name     string `json:"name"`
	Meter    string `gorm:"type:text" json:"meter"`
}

func (Object) TableName() string { return "objects" }

// MonthlyReading is one row of the monthly consumption view. Counters are
// cumulative; the diff columns hold the change against the prior month.
type MonthlyReading struct {
	Counter  uint      `gorm:"primaryKey;column:counter" json:"-"`
	Time     time.Time `gorm:"column:_time;index" json:"time"`
	MeterID  int64     `gorm:"column:id;index" json:"id"`
	Log      int64     `gorm:"column:log;index" json:"log"`
	EnFirst  float64   `gorm:"column:en_first" json:"en_first"`
	EnLast   float64   `gorm:"column:en_last" json:"en_last"`
	VolFirst float64   `gorm:"column:vol_first" json:"vol_first"`
	VolLast  float64   `gorm:"column:vol_last" json:"vol_last"`
	DiffEn   float64   `gorm:"column:diff_en" json:"diff_en"`
	DiffVol  float64   `gorm:"column:diff_vol" json:"diff_vol"`
}

func (MonthlyReading) TableName() string { return MonthlyTable }

// DailyReading is one row of the daily consumption table.
type DailyReading struct {
	Counter uint      `gorm:"primaryKey;column:counter" json:"-"`
	Time    time.Time `gorm:"column:_time;index" json:"time"`
	MeterID int64     `gorm:"column:id;index" json:"id"`
	Log     int64     `gorm:"column:log;index" json:"log"`
	EnFirst float64   `gorm:"column:en_first" json:"en_first"`
	EnLast  float64   `gorm:"column:en_last" json:"en_last"`
	DiffEn  float64   `gorm:"column:diff_en" json:"diff_en"`
	DiffVol float64   `gorm:"column:diff_vol" json:"diff_vol"`
	FltMean float64   `gorm:"column:flt_mean" json:"flt_mean"`
	RetMean float64   `gorm:"column:ret_mean" json:"ret_mean"`
	PowMax  float64   `gorm:"column:pow_max" json:"pow_max"`
}

func (DailyReading) TableName() string { return "day_comp" }

// Setting is a JSON value in the portal's key-value settings table.
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Category  string    `gorm:"index" json:"category"`
	KeyName   string    `gorm:"column:key_name;index" json:"key_name"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }
