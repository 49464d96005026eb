package worker

import (
	"context"
	"os/exec"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kilnproject/kiln/api"
)

// Runner executes one build job. The scheduler core only cares that the
// call returns; what a build actually does lives behind this seam.
type Runner interface {
	Run(ctx context.Context, job *api.JobDescriptor) error
}

// CommandRunner executes the job's command line on the host.
type CommandRunner struct{}

func (CommandRunner) Run(ctx context.Context, job *api.JobDescriptor) error {
	if len(job.Cmd) == 0 {
		return errors.Errorf("job %s has no command", job.Name)
	}
	cmd := exec.CommandContext(ctx, job.Cmd[0], job.Cmd[1:]...)
	out, err := cmd.CombinedOutput()
	log.WithFields(log.Fields{"job": job.Name, "cmd": job.Cmd[0]}).Debug("Build output:\n", string(out))
	if err != nil {
		return errors.Wrapf(err, "running job %s", job.Name)
	}
	return nil
}
