// Package cachedb persists cache locality: which workers have built items
// with a given cache hint, per pool. This table is the only scheduler state
// that survives a restart.
package cachedb

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// CachedWorker is one (pool, cache_hint, worker) row. Created is recorded
// for observability and consulted only by the optional sweeper.
type CachedWorker struct {
	Pool      string    `gorm:"primaryKey;column:pool"`
	CacheHint string    `gorm:"primaryKey;column:cache_hint"`
	Worker    string    `gorm:"primaryKey;column:worker"`
	Created   time.Time `gorm:"column:created"`
}

func (CachedWorker) TableName() string { return "cached" }

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// cached table. Transient open failures are retried with exponential
// backoff for up to a minute; sqlite locks held by a previous instance
// shutting down are the usual cause.
func Open(path string) (*Store, error) {
	var db *gorm.DB
	op := func() error {
		var err error
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	if err := backoff.Retry(op, b); err != nil {
		return nil, errors.Wrapf(err, "opening cache db at %s", path)
	}
	if err := db.AutoMigrate(&CachedWorker{}); err != nil {
		return nil, errors.Wrap(err, "migrating cache db")
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing gorm handle, for tests.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&CachedWorker{}); err != nil {
		return nil, errors.Wrap(err, "migrating cache db")
	}
	return &Store{db: db}, nil
}

// MarkCached records that worker has built an item with this hint,
// inserting or replacing the row so Created reflects the latest build.
func (s *Store) MarkCached(pool, hint, worker string) error {
	row := CachedWorker{Pool: pool, CacheHint: hint, Worker: worker, Created: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool"}, {Name: "cache_hint"}, {Name: "worker"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// QueryCache returns the names of all workers ever marked for the hint in
// this pool, ascending.
func (s *Store) QueryCache(pool, hint string) ([]string, error) {
	var names []string
	err := s.db.Model(&CachedWorker{}).
		Where("pool = ? AND cache_hint = ?", pool, hint).
		Order("worker ASC").
		Pluck("worker", &names).Error
	return names, err
}

// SweepOlderThan deletes rows whose Created is before the cutoff, returning
// the number removed.
func (s *Store) SweepOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("created < ?", cutoff).Delete(&CachedWorker{})
	return res.RowsAffected, res.Error
}

// PoolDAO scopes the store to a single pool, satisfying the scheduler's DAO
// contract.
func (s *Store) PoolDAO(pool string) *PoolDAO {
	return &PoolDAO{store: s, pool: pool}
}

type PoolDAO struct {
	store *Store
	pool  string
}

func (d *PoolDAO) MarkCached(hint, worker string) error {
	return d.store.MarkCached(d.pool, hint, worker)
}

func (d *PoolDAO) QueryCache(hint string) ([]string, error) {
	return d.store.QueryCache(d.pool, hint)
}

// Close releases the underlying sqlite handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		log.Error("Failed to close cache db: ", err)
		return err
	}
	return nil
}
