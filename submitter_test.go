package gridsub

import (
	"context"
	"fmt"
	"io/ioutil"
	"sync"
	"testing"

	"github.com/annie-grid/gridsub/internal/pkg/corfs"
	"github.com/annie-grid/gridsub/internal/pkg/jobscript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSubmitter remembers every submission, along with the submit
// script as it was staged at submission time.
type recordingSubmitter struct {
	mu      sync.Mutex
	subs    []submission
	scripts map[string]string
	failOn  map[string]error
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{
		scripts: make(map[string]string),
		failOn:  make(map[string]error),
	}
}

func (r *recordingSubmitter) Submit(ctx context.Context, sub submission) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subs = append(r.subs, sub)
	if path, ok := sub.Staged.Path(jobscript.SubmitScript); ok {
		body, err := ioutil.ReadFile(path)
		if err != nil {
			return "", err
		}
		r.scripts[sub.JobName] = string(body)
	}

	if err, ok := r.failOn[sub.Batch.String()]; ok {
		return "", err
	}
	return fmt.Sprintf("submitted %s", sub.JobName), nil
}

func (r *recordingSubmitter) batches() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()

	batches := make([]Batch, len(r.subs))
	for i, sub := range r.subs {
		batches[i] = sub.Batch
	}
	return batches
}

func stageScript(t *testing.T, body string) *jobscript.Staged {
	dir, err := ioutil.TempDir("", "gridsub-submitter")
	require.Nil(t, err)

	staged, err := jobscript.Stage(&corfs.LocalFileSystem{}, dir, []jobscript.Artifact{
		{Name: jobscript.SubmitScript, Body: []byte(body)},
	})
	require.Nil(t, err)
	t.Cleanup(func() { staged.Cleanup() })
	return staged
}

func TestShellSubmitter(t *testing.T) {
	staged := stageScript(t, "echo \"submitted $(basename $(pwd))\"\n")

	output, err := shellSubmitter{shell: "sh"}.Submit(context.Background(), submission{
		Run:     "4314",
		Batch:   Batch{First: 0, Last: 4},
		JobName: "gridsub_4314_p0-4",
		Staged:  staged,
	})
	require.Nil(t, err)
	assert.Contains(t, output, "submitted gridsub-submitter")
}

func TestShellSubmitterFailure(t *testing.T) {
	staged := stageScript(t, "echo 'no proxy found'\nexit 3\n")

	output, err := shellSubmitter{shell: "sh"}.Submit(context.Background(), submission{
		JobName: "gridsub_4314_p0-4",
		Staged:  staged,
	})
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "no proxy found")
	assert.Contains(t, output, "no proxy found")
}

func TestShellSubmitterMissingScript(t *testing.T) {
	dir, err := ioutil.TempDir("", "gridsub-submitter")
	require.Nil(t, err)
	staged, err := jobscript.Stage(&corfs.LocalFileSystem{}, dir, nil)
	require.Nil(t, err)
	defer staged.Cleanup()

	_, err = shellSubmitter{shell: "sh"}.Submit(context.Background(), submission{
		JobName: "gridsub_4314_p0-4",
		Staged:  staged,
	})
	assert.NotNil(t, err)
}

func TestDryRunSubmitter(t *testing.T) {
	staged := stageScript(t, "exit 1\n")

	output, err := dryRunSubmitter{}.Submit(context.Background(), submission{
		Run:     "4314",
		JobName: "gridsub_4314_p0-4",
		Staged:  staged,
	})
	assert.Nil(t, err)
	assert.Equal(t, "dry run", output)
}
