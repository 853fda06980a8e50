package gridsub

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/annie-grid/gridsub/internal/pkg/corfs"
	"github.com/annie-grid/gridsub/internal/pkg/corlambda"
	"github.com/annie-grid/gridsub/internal/pkg/jobscript"
	log "github.com/sirupsen/logrus"
)

var (
	// relayFileSystem opens the file system holding staged scripts inside the relay
	relayFileSystem = corfs.InitFilesystem
	// relaySubmitter submits the fetched scripts inside the relay
	relaySubmitter submitter = shellSubmitter{shell: "sh"}
)

// runningInLambda infers if the program is running in AWS lambda via inspection of the environment
func runningInLambda() bool {
	expectedEnvVars := []string{"LAMBDA_TASK_ROOT", "AWS_EXECUTION_ENV", "LAMBDA_RUNTIME_DIR"}
	for _, envVar := range expectedEnvVars {
		if os.Getenv(envVar) == "" {
			return false
		}
	}
	return true
}

func fetchArtifact(fs corfs.FileSystem, path, name string) (jobscript.Artifact, error) {
	reader, err := fs.OpenReader(path, 0)
	if err != nil {
		return jobscript.Artifact{}, err
	}
	defer reader.Close()

	body, err := ioutil.ReadAll(reader)
	if err != nil {
		return jobscript.Artifact{}, err
	}
	return jobscript.Artifact{Name: name, Body: body}, nil
}

// handleRequest runs inside the relay function. It copies the staged scripts
// of one batch to local disk and runs the submission script there.
func handleRequest(ctx context.Context, t task) (taskResult, error) {
	fs := relayFileSystem(t.FileSystemType)
	logger := log.WithFields(log.Fields{"session": t.Session, "run": t.Run, "job": t.JobName})

	artifacts := make([]jobscript.Artifact, 0, len(t.Scripts))
	for _, name := range t.Scripts {
		artifact, err := fetchArtifact(fs, fs.Join(t.StagingDir, name), name)
		if err != nil {
			return taskResult{}, fmt.Errorf("fetching %s: %w", name, err)
		}
		artifacts = append(artifacts, artifact)
	}

	tmpDir, err := ioutil.TempDir("", "gridsub-relay")
	if err != nil {
		return taskResult{}, err
	}
	defer os.RemoveAll(tmpDir)

	staged, err := jobscript.Stage(&corfs.LocalFileSystem{}, tmpDir, artifacts)
	if err != nil {
		return taskResult{}, err
	}
	defer staged.Cleanup()

	logger.Infof("Relaying submission of %s", t.Batch)
	output, err := relaySubmitter.Submit(ctx, submission{
		Run:     t.Run,
		Batch:   t.Batch,
		JobName: t.JobName,
		Staged:  staged,
	})
	return taskResult{Output: output}, err
}

// lambdaSubmitter forwards submissions to the relay function. Scripts must
// be staged somewhere the relay can read, which in practice means S3.
type lambdaSubmitter struct {
	*corlambda.LambdaClient
	functionName string
	session      string
	fsType       corfs.FileSystemType
}

func (l *lambdaSubmitter) Submit(ctx context.Context, sub submission) (string, error) {
	relayTask := task{
		Session:        l.session,
		Run:            sub.Run,
		Batch:          sub.Batch,
		JobName:        sub.JobName,
		FileSystemType: l.fsType,
		StagingDir:     sub.Staged.Dir,
		Scripts:        sub.Staged.Names(),
	}
	payload, err := json.Marshal(relayTask)
	if err != nil {
		return "", err
	}

	output, err := l.Invoke(l.functionName, payload)
	if err != nil {
		return "", err
	}

	var result taskResult
	if err := json.Unmarshal(output, &result); err != nil {
		return "", fmt.Errorf("decoding relay output: %w", err)
	}
	return result.Output, nil
}
