package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

type patchedLogger struct {
	zapgorm2.Logger
}

// ErrRecordNotFound will be handled in application logic, let's not forward this to zap/sentry
func (l *patchedLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// Options contains the parameters to connect to the database
type Options struct {
	URI    string
	Logger *zap.Logger

	MaxIdleConns int
	MaxOpenConns int
}

// New returns an instance for interacting with the PostgreSQL database
func New(option Options) (*gorm.DB, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.URI == "" {
		return nil, fmt.Errorf("empty URI is invalid")
	}
	if option.MaxIdleConns == 0 {
		option.MaxIdleConns = 1
	}
	if option.MaxOpenConns == 0 {
		option.MaxOpenConns = 20
	}
	return Open(postgres.Open(option.URI), option)
}

// Open connects with an arbitrary gorm dialector, applying the same logging and pool settings
func Open(dialector gorm.Dialector, option Options) (*gorm.DB, error) {
	gLogger := zapgorm2.New(option.Logger)
	gLogger.LogLevel = gormlogger.Warn
	gLogger.SlowThreshold = time.Second
	gLogger.SkipCallerLookup = false

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: &patchedLogger{
			Logger: gLogger,
		},
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot get the connection pool")
	}
	if option.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(option.MaxIdleConns)
	}
	if option.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(option.MaxOpenConns)
	}
	pool.SetConnMaxLifetime(time.Hour)
	return db, nil
}
