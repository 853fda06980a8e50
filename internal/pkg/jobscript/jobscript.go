// Package jobscript renders the shell scripts that make up one grid job.
//
// Generation is pure: Generate returns in-memory Artifacts and touches no
// file system. Stage writes a set of artifacts to a corfs.FileSystem and
// returns a handle whose Cleanup removes them again.
package jobscript

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// Names of the generated artifacts
const (
	GridJobScript      = "grid_job.sh"
	ContainerJobScript = "run_container_job.sh"
	SubmitScript       = "submit_grid_job.sh"
)

// workerDir is where transferred inputs are visible inside the container
const workerDir = "/srv"

// ErrMissingParam is returned by Params.Validate when a required field is empty
var ErrMissingParam = errors.New("missing job script parameter")

// Params holds the site and user settings shared by every job of a session.
type Params struct {
	User             string // grid username, used for the job owner and output tagging
	Group            string // VO group passed to the scheduler
	InputPath        string // grid input area holding the tarball and beamdb files
	OutputPath       string // grid output area; one sub-directory per run
	RawDataPath      string // parent of the per-run raw data directories
	PartPattern      string // fmt pattern for a part file name, given run and part index
	ProcessedPattern string // fmt pattern for a decoded part file name, given run and part index
	TarballName      string // ToolAnalysis tarball in InputPath
	ToolAnalysisName string // ToolAnalysis directory inside the tarball
	SchedulerCommand string
	Memory           string
	Disk             string
	Lifetime         string
	BeamDBSuffix     string
}

// Validate checks that every field needed to render a job is present.
func (p Params) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"user", p.User},
		{"input_path", p.InputPath},
		{"output_path", p.OutputPath},
		{"raw_data_path", p.RawDataPath},
		{"part_pattern", p.PartPattern},
		{"processed_pattern", p.ProcessedPattern},
		{"tarball_name", p.TarballName},
		{"toolanalysis_name", p.ToolAnalysisName},
		{"scheduler_command", p.SchedulerCommand},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingParam, field.name)
		}
	}
	return nil
}

// PartFile returns the name of a run's part file.
func (p Params) PartFile(run string, part int) string {
	return fmt.Sprintf(p.PartPattern, run, part)
}

// ProcessedFile returns the name of the decoded output of a run's part.
func (p Params) ProcessedFile(run string, part int) string {
	return fmt.Sprintf(p.ProcessedPattern, run, part)
}

// BeamDBFile returns the path of a run's beam database file in InputPath.
func (p Params) BeamDBFile(run string) string {
	return joinPath(p.InputPath, run+p.BeamDBSuffix)
}

// Job describes the part range of a single grid job. FetchFirst and
// FetchLast bound the parts transferred to the worker; they extend past
// [First, Last] by at most one part on each side when a neighbouring part
// is needed for trigger overlap processing.
type Job struct {
	Run        string
	First      int
	Last       int
	FetchFirst int
	FetchLast  int
}

// NeedsBefore reports whether the part before First is transferred
func (j Job) NeedsBefore() bool {
	return j.FetchFirst < j.First
}

// NeedsAfter reports whether the part after Last is transferred
func (j Job) NeedsAfter() bool {
	return j.FetchLast > j.Last
}

// JobName returns the scheduler-visible name of the job
func JobName(run string, first, last int) string {
	return fmt.Sprintf("gridsub_%s_p%d-%d", run, first, last)
}

// Artifact is one generated file
type Artifact struct {
	Name string
	Body []byte
}

// templateData is the value every script template is executed against
type templateData struct {
	Params
	Job
	JobName      string
	Tarball      string
	OutputFolder string
	RawFiles     []string // grid locations of the transferred parts
	WorkerFiles  []string // the same parts as seen inside the container
	Overlap      []string // processed outputs of neighbour parts, removed after decoding
}

func newTemplateData(params Params, job Job) templateData {
	data := templateData{
		Params:       params,
		Job:          job,
		JobName:      JobName(job.Run, job.First, job.Last),
		Tarball:      joinPath(params.InputPath, params.TarballName),
		OutputFolder: joinPath(params.OutputPath, job.Run),
	}
	for part := job.FetchFirst; part <= job.FetchLast; part++ {
		name := params.PartFile(job.Run, part)
		data.RawFiles = append(data.RawFiles, joinPath(params.RawDataPath, job.Run, name))
		data.WorkerFiles = append(data.WorkerFiles, joinPath(workerDir, name))
	}
	if job.NeedsBefore() {
		data.Overlap = append(data.Overlap, params.ProcessedFile(job.Run, job.FetchFirst))
	}
	if job.NeedsAfter() {
		data.Overlap = append(data.Overlap, params.ProcessedFile(job.Run, job.FetchLast))
	}
	return data
}

// Generate renders the grid job, container job, and submission scripts for job.
func Generate(params Params, job Job) ([]Artifact, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if job.Run == "" {
		return nil, fmt.Errorf("%w: run", ErrMissingParam)
	}
	if job.First < 0 || job.First > job.Last {
		return nil, fmt.Errorf("invalid part range p%d-%d", job.First, job.Last)
	}
	if job.FetchFirst < 0 || job.FetchFirst > job.First || job.First-job.FetchFirst > 1 ||
		job.FetchLast < job.Last || job.FetchLast-job.Last > 1 {
		return nil, fmt.Errorf("invalid fetch range p%d-%d for p%d-%d", job.FetchFirst, job.FetchLast, job.First, job.Last)
	}

	data := newTemplateData(params, job)

	artifacts := make([]Artifact, 0, len(scriptTemplates))
	for _, tmpl := range scriptTemplates {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("rendering %s: %w", tmpl.Name(), err)
		}
		artifacts = append(artifacts, Artifact{
			Name: tmpl.Name(),
			Body: buf.Bytes(),
		})
	}
	return artifacts, nil
}

// joinPath joins path elements with a single '/', which is correct for both
// POSIX paths on the grid and s3:// addresses.
func joinPath(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for i, e := range elem {
		if i > 0 {
			e = strings.TrimPrefix(e, "/")
		}
		if i < len(elem)-1 {
			e = strings.TrimSuffix(e, "/")
		}
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

var scriptTemplates = []*template.Template{
	template.Must(template.New(GridJobScript).Parse(gridJobTemplate)),
	template.Must(template.New(ContainerJobScript).Parse(containerJobTemplate)),
	template.Must(template.New(SubmitScript).Parse(submitTemplate)),
}
