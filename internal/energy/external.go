package energy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"netzwaechter/internal/settings"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Opener opens a dedicated connection to an external data source.
type Opener func(ctx context.Context, src settings.DataSource) (*gorm.DB, error)

// OpenPostgres opens a single-connection handle to src and pings it.
func OpenPostgres(ctx context.Context, src settings.DataSource) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  DSN(src),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open external source: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to %s:%d: %w", src.Host, src.Port, err)
	}
	return db, nil
}

// DSN renders src as a libpq key/value connection string.
func DSN(src settings.DataSource) string {
	sslmode := "disable"
	if src.SSL {
		sslmode = "require"
	}
	timeout := int(math.Ceil(src.ConnectionTimeout.Seconds()))
	if timeout < 1 {
		timeout = 1
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		dsnValue(src.Host), src.Port, dsnValue(src.Username), dsnValue(src.Password),
		dsnValue(src.Database), sslmode, timeout)
}

func dsnValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// withConnection opens a connection, hands it to fn and closes it again on
// every return path.
func withConnection(ctx context.Context, open Opener, src settings.DataSource, fn func(*gorm.DB) error) error {
	db, err := open(ctx, src)
	if err != nil {
		return err
	}
	defer func() {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			log.WithError(err).WithField("host", src.Host).Warn("Failed to close external connection")
		}
	}()
	return fn(db)
}
