package gridsub

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/annie-grid/gridsub/internal/pkg/jobscript"
	log "github.com/sirupsen/logrus"
)

// submission is one staged batch ready to be handed to the scheduler
type submission struct {
	Run     string
	Batch   Batch
	JobName string
	Staged  *jobscript.Staged
}

// submitter hands a staged batch to the grid scheduler and returns the
// scheduler's output.
type submitter interface {
	Submit(ctx context.Context, sub submission) (string, error)
}

// shellSubmitter runs the staged submission script with a local shell.
type shellSubmitter struct {
	shell string
}

func (s shellSubmitter) Submit(ctx context.Context, sub submission) (string, error) {
	script, ok := sub.Staged.Path(jobscript.SubmitScript)
	if !ok {
		return "", fmt.Errorf("%s was not staged for %s", jobscript.SubmitScript, sub.JobName)
	}

	cmd := exec.CommandContext(ctx, s.shell, script)
	cmd.Dir = filepath.Dir(script)

	log.Debugf("Running %s %s", s.shell, script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w: %s", s.shell, filepath.Base(script), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// dryRunSubmitter reports what would be submitted without running anything.
type dryRunSubmitter struct{}

func (dryRunSubmitter) Submit(ctx context.Context, sub submission) (string, error) {
	script, _ := sub.Staged.Path(jobscript.SubmitScript)
	log.WithFields(log.Fields{
		"run":     sub.Run,
		"job":     sub.JobName,
		"scripts": strings.Join(sub.Staged.Names(), ","),
	}).Infof("Dry run: would submit %s", script)
	return "dry run", nil
}
