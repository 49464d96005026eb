// Package worker implements the agent side of the build cluster: register
// with the scheduler, long-poll for work, execute it, and honor the
// pause/update/release lifecycle driven from the scheduler.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kilnproject/kiln/api"
	"github.com/kilnproject/kiln/api/client"
)

// Updater performs a self-update when the admin requests one. The default
// implementation just logs; deployments plug in their rollout mechanism.
type Updater interface {
	Update() error
}

type LogUpdater struct{}

func (LogUpdater) Update() error {
	log.Info("Self-update requested; no updater configured")
	return nil
}

type Agent struct {
	Client   *client.Client
	Name     string
	Runner   Runner
	Updater  Updater
	PollWait time.Duration
}

func NewAgent(c *client.Client, name string, runner Runner) *Agent {
	return &Agent{
		Client:   c,
		Name:     name,
		Runner:   runner,
		Updater:  LogUpdater{},
		PollWait: 30 * time.Second,
	}
}

// Run drives the agent loop until the worker is released by the scheduler
// or the context is cancelled. Cancellation releases the registration so
// queued work is re-parked promptly rather than waiting out a poll timeout.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Client.Register(a.Name); err != nil {
		return err
	}
	log.WithFields(log.Fields{"worker": a.Name}).Info("Registered with scheduler")

	for {
		if ctx.Err() != nil {
			if err := a.Client.Release(a.Name); err != nil {
				log.Error("Failed to release on shutdown: ", err)
			}
			return ctx.Err()
		}

		reply, err := a.Client.Pop(a.Name, a.PollWait)
		if err != nil {
			log.Error("Poll failed, backing off: ", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if reply == nil {
			continue
		}

		switch reply.Action {
		case api.ActionFinished:
			log.WithFields(log.Fields{"worker": a.Name}).Info("Released by scheduler")
			return nil
		case api.ActionUpdate:
			a.selfUpdate()
		case api.ActionRun:
			a.runJob(ctx, reply)
		default:
			log.Warn("Unknown pop action: ", reply.Action)
		}
	}
}

// selfUpdate releases the current registration, applies the update, and
// comes back under the same name so the admin's wait completes.
func (a *Agent) selfUpdate() {
	log.WithFields(log.Fields{"worker": a.Name}).Info("Updating on scheduler request")
	if err := a.Client.Release(a.Name); err != nil {
		log.Error("Failed to release for update: ", err)
	}
	if err := a.Updater.Update(); err != nil {
		log.Error("Self-update failed: ", err)
	}
	if err := a.Client.Register(a.Name); err != nil {
		log.Error("Failed to re-register after update: ", err)
	}
}

func (a *Agent) runJob(ctx context.Context, reply *api.PopReply) {
	jobID := uuid.New().String()
	if err := a.Client.Started(reply.TicketID, jobID, a.Name); err != nil {
		log.Error("Failed to report job start: ", err)
	}
	log.WithFields(log.Fields{
		"worker": a.Name,
		"job":    reply.Job.String(),
		"jobId":  jobID,
	}).Info("Running job")
	if err := a.Runner.Run(ctx, reply.Job); err != nil {
		log.WithFields(log.Fields{"worker": a.Name, "job": reply.Job.String()}).Error("Job failed: ", err)
	}
}
