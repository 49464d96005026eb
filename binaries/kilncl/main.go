// kilncl is the operator cli for the kiln scheduler: submit and track jobs,
// inspect pools, and drive the admin surface.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kilnproject/kiln/api"
	"github.com/kilnproject/kiln/api/client"
)

var (
	schedulerURL string
	poolName     string
)

func newClient() *client.Client {
	return client.New(schedulerURL, poolName)
}

func main() {
	root := &cobra.Command{Use: "kilncl", Short: "kiln scheduler cli"}
	root.PersistentFlags().StringVar(&schedulerURL, "scheduler", "http://localhost:9090", "scheduler base url")
	root.PersistentFlags().StringVar(&poolName, "pool", "default", "pool name")

	var urgent bool
	var hint string
	var costCached, costNonCached uint32
	submit := &cobra.Command{
		Use:   "submit <name> [cmd...]",
		Short: "submit a build job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := newClient().Submit(urgent, api.JobDescriptor{
				Name:          args[0],
				Hint:          hint,
				CostCached:    costCached,
				CostNonCached: costNonCached,
				Cmd:           args[1:],
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	submit.Flags().BoolVar(&urgent, "urgent", false, "schedule ahead of non-urgent work")
	submit.Flags().StringVar(&hint, "cache-hint", "", "cache locality hint")
	submit.Flags().Uint32Var(&costCached, "cost-cached", 1, "expected duration on a cache-warm worker")
	submit.Flags().Uint32Var(&costNonCached, "cost-noncached", 4, "expected duration on a cold worker")

	status := &cobra.Command{
		Use:   "status <ticket>",
		Short: "show ticket status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().TicketStatus(args[0])
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}

	wait := &cobra.Command{
		Use:   "wait <ticket>",
		Short: "poll until the ticket is accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			for {
				st, err := c.TicketStatus(args[0])
				if err != nil {
					return err
				}
				if st.Accepted {
					return printJSON(st)
				}
				time.Sleep(time.Second)
			}
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <ticket>",
		Short: "cancel a queued ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().Cancel(args[0])
		},
	}

	active := &cobra.Command{
		Use:   "active <true|false>",
		Short: "pause or resume the whole pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseBool(args[0])
			if err != nil {
				return err
			}
			return newClient().SetPoolActive(v)
		},
	}

	pools := &cobra.Command{
		Use:   "pools",
		Short: "list pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := newClient().ListPools()
			if err != nil {
				return err
			}
			return printJSON(names)
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "summarize the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := newClient().ShowPool()
			if err != nil {
				return err
			}
			return printJSON(info)
		},
	}

	workers := &cobra.Command{
		Use:   "workers",
		Short: "list the pool's workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := newClient().ListWorkers()
			if err != nil {
				return err
			}
			return printJSON(infos)
		},
	}

	workerActive := &cobra.Command{
		Use:   "worker-active <name> <true|false>",
		Short: "pause or resume one worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return err
			}
			return newClient().SetWorkerActive(args[0], v)
		},
	}

	update := &cobra.Command{
		Use:   "update <name>",
		Short: "ask a worker to self-update and wait for it to return",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().UpdateWorker(args[0])
		},
	}

	root.AddCommand(submit, status, wait, cancel, active, pools, show, workers, workerActive, update)
	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
