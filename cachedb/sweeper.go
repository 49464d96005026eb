package cachedb

import (
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/kilnproject/kiln/common/stats"
)

// Sweeper ages out cache rows older than a TTL on a cron schedule. The core
// placement policy never consults Created; sweeping only bounds how stale a
// locality preference can get on long-lived clusters. With ttl zero the
// sweeper is inert.
type Sweeper struct {
	store *Store
	ttl   time.Duration
	stat  stats.StatsReceiver
	cron  *cron.Cron
}

func NewSweeper(store *Store, ttl time.Duration, stat stats.StatsReceiver) *Sweeper {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Sweeper{store: store, ttl: ttl, stat: stat.Scope("cachedb")}
}

// Start schedules the sweep; spec is a cron expression, e.g. "@hourly".
func (s *Sweeper) Start(spec string) error {
	if s.ttl <= 0 {
		return nil
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().UTC().Add(-s.ttl)
	n, err := s.store.SweepOlderThan(cutoff)
	if err != nil {
		log.Error("Cache sweep failed: ", err)
		return
	}
	if n > 0 {
		s.stat.Counter(stats.CacheSweptRowsCounter).Inc(n)
		log.WithFields(log.Fields{"rows": n, "cutoff": cutoff}).Info("Swept stale cache rows")
	}
}
