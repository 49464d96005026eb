package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kilnproject/kiln/api/server"
	"github.com/kilnproject/kiln/cachedb"
	"github.com/kilnproject/kiln/common/endpoints"
	clog "github.com/kilnproject/kiln/common/log"
	"github.com/kilnproject/kiln/common/stats"
	"github.com/kilnproject/kiln/config"
	"github.com/kilnproject/kiln/pool"
)

func main() {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "kiln build cluster scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSchedulerConfig(cfgPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to scheduler config json")
	if err := cmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(cfg config.SchedulerConfig) error {
	clog.Setup(cfg.LogLevel, cfg.LogJSON)
	log.Info("Starting kiln scheduler")

	stat := stats.DefaultStatsReceiver()

	store, err := cachedb.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.CacheTTLHours > 0 {
		sweeper := cachedb.NewSweeper(store, time.Duration(cfg.CacheTTLHours)*time.Hour, stat)
		if err := sweeper.Start(cfg.SweepSchedule); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	pools := map[string]*pool.Pool{}
	for _, name := range cfg.Pools {
		pools[name] = pool.New(name, store.PoolDAO(name), stat)
	}

	go func() {
		admin := endpoints.NewAdminServer(cfg.AdminAddr, stat)
		if err := admin.Serve(); err != nil {
			log.Fatal("Admin server failed: ", err)
		}
	}()

	srv := server.New(pools, cfg.SubmitRatePerSec, stat)
	return srv.Serve(cfg.Addr)
}
