package gridsub

import "github.com/annie-grid/gridsub/internal/pkg/corfs"

// task is the serialized description of one batch submission handed to the
// relay function, with everything it needs to fetch the staged scripts.
type task struct {
	Session        string
	Run            string
	Batch          Batch
	JobName        string
	FileSystemType corfs.FileSystemType
	StagingDir     string
	Scripts        []string
}

type taskResult struct {
	Output string `json:"output"`
}
