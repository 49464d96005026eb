package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kilnproject/kiln/api/client"
	clog "github.com/kilnproject/kiln/common/log"
	"github.com/kilnproject/kiln/config"
	"github.com/kilnproject/kiln/worker"
)

func main() {
	cfg := config.DefaultAgentConfig()
	cmd := &cobra.Command{
		Use:   "workeragent",
		Short: "kiln build worker agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.SchedulerURL, "scheduler", cfg.SchedulerURL, "scheduler base url")
	cmd.Flags().StringVar(&cfg.Pool, "pool", cfg.Pool, "pool to join")
	cmd.Flags().StringVar(&cfg.Name, "name", cfg.Name, "unique worker name (defaults to hostname)")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := cmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(cfg config.AgentConfig) error {
	clog.Setup(cfg.LogLevel, cfg.LogJSON)
	name := cfg.Name
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			return err
		}
		name = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down on signal")
		cancel()
	}()

	c := client.New(cfg.SchedulerURL, cfg.Pool)
	agent := worker.NewAgent(c, name, worker.CommandRunner{})
	err := agent.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
