package gridsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/semaphore"

	log "github.com/sirupsen/logrus"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/annie-grid/gridsub/internal/pkg/corfs"
	"github.com/annie-grid/gridsub/internal/pkg/corlambda"
	"github.com/annie-grid/gridsub/internal/pkg/jobscript"
)

// ErrMissingBeamDB is returned when a run's beam database file is not in the input area
var ErrMissingBeamDB = errors.New("beamdb file not found")

// Driver partitions runs into batches and submits one grid job per batch
type Driver struct {
	config    *config
	options   []Option
	session   string
	rawFS     corfs.FileSystem
	inputFS   corfs.FileSystem
	stagingFS corfs.FileSystem
	lister    *RunLister
	submitter submitter
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
}

// config configures a Driver's submissions
type config struct {
	Params          jobscript.Params
	StagingLocation string
	StepSize        int
	MaxConcurrency  int
	RunCacheSize    int
	RequireBeamDB   bool
	Cleanup         bool
	Verbose         bool
	DryRun          bool
	Lambda          bool
	LambdaFunction  string
	LambdaRetries   int
	In              io.Reader
	Out             io.Writer
}

func newConfig() *config {
	loadConfig() // Load viper config from settings file(s) and environment
	return &config{
		Params: jobscript.Params{
			User:             viper.GetString("user"),
			Group:            viper.GetString("group"),
			InputPath:        viper.GetString("input_path"),
			OutputPath:       viper.GetString("output_path"),
			RawDataPath:      viper.GetString("raw_data_path"),
			PartPattern:      viper.GetString("part_pattern"),
			ProcessedPattern: viper.GetString("processed_pattern"),
			TarballName:      viper.GetString("tarball_name"),
			ToolAnalysisName: viper.GetString("toolanalysis_name"),
			SchedulerCommand: viper.GetString("scheduler_command"),
			Memory:           viper.GetString("memory"),
			Disk:             viper.GetString("disk"),
			Lifetime:         viper.GetString("lifetime"),
			BeamDBSuffix:     viper.GetString("beamdb_suffix"),
		},
		StagingLocation: viper.GetString("staging_location"),
		StepSize:        viper.GetInt("step_size"),
		MaxConcurrency:  viper.GetInt("max_concurrency"),
		RunCacheSize:    viper.GetInt("run_cache_size"),
		RequireBeamDB:   viper.GetBool("require_beamdb"),
		Cleanup:         viper.GetBool("cleanup"),
		Verbose:         viper.GetBool("verbose"),
		DryRun:          viper.GetBool("dry_run"),
		Lambda:          viper.GetBool("lambda"),
		LambdaFunction:  viper.GetString("lambda_function"),
		LambdaRetries:   viper.GetInt("lambda_retries"),
		In:              os.Stdin,
		Out:             os.Stdout,
	}
}

// Option allows configuration of a Driver
type Option func(*config)

// WithUser sets the grid username
func WithUser(user string) Option {
	return func(c *config) {
		c.Params.User = user
	}
}

// WithInputPath sets the grid input area holding the tarball and beamdb files
func WithInputPath(path string) Option {
	return func(c *config) {
		c.Params.InputPath = path
	}
}

// WithOutputPath sets the grid output area
func WithOutputPath(path string) Option {
	return func(c *config) {
		c.Params.OutputPath = path
	}
}

// WithRawDataPath sets the location of the per-run raw data directories.
// Locations starting with "s3://" are listed through S3.
func WithRawDataPath(path string) Option {
	return func(c *config) {
		c.Params.RawDataPath = path
	}
}

// WithToolAnalysis sets the ToolAnalysis tarball and the directory it unpacks to
func WithToolAnalysis(tarballName, directoryName string) Option {
	return func(c *config) {
		c.Params.TarballName = tarballName
		c.Params.ToolAnalysisName = directoryName
	}
}

// WithStagingLocation sets where generated job scripts are written before submission.
// It defaults to the input path, which grid workers can read.
func WithStagingLocation(location string) Option {
	return func(c *config) {
		c.StagingLocation = location
	}
}

// WithStepSize sets the maximum number of part files per job
func WithStepSize(s int) Option {
	return func(c *config) {
		c.StepSize = s
	}
}

// WithMaxConcurrency sets how many submissions may be in flight at once
func WithMaxConcurrency(n int) Option {
	return func(c *config) {
		c.MaxConcurrency = n
	}
}

// WithRequireBeamDB sets whether a run's beamdb file must exist before submission
func WithRequireBeamDB(require bool) Option {
	return func(c *config) {
		c.RequireBeamDB = require
	}
}

// WithCleanup sets whether staged scripts are removed after submission
func WithCleanup(cleanup bool) Option {
	return func(c *config) {
		c.Cleanup = cleanup
	}
}

// WithDryRun stages scripts without running the scheduler
func WithDryRun(dryRun bool) Option {
	return func(c *config) {
		c.DryRun = dryRun
	}
}

// WithLambda forwards submissions to the named relay function
func WithLambda(functionName string) Option {
	return func(c *config) {
		c.Lambda = true
		c.LambdaFunction = functionName
	}
}

// WithIO sets where interactive prompts are read from and written to
func WithIO(in io.Reader, out io.Writer) Option {
	return func(c *config) {
		c.In = in
		c.Out = out
	}
}

// NewDriver creates a new Driver with optional configuration
func NewDriver(options ...Option) (*Driver, error) {
	d := &Driver{
		options: options,
		session: uuid.New().String(),
		stderr:  os.Stderr,
	}
	if runningInLambda() {
		// the relay is configured by its requests
		return d, nil
	}
	if err := d.configure(); err != nil {
		return nil, err
	}
	return d, nil
}

// configure loads the config, applies the Driver's options, and builds the
// file systems and submitter the config calls for.
func (d *Driver) configure() error {
	c := newConfig()
	for _, f := range d.options {
		f(c)
	}
	d.stdin, d.stdout = c.In, c.Out

	if c.Verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if c.MaxConcurrency < 1 {
		log.Warn("Configured max concurrency is below 1; submitting serially")
		c.MaxConcurrency = 1
	}
	if c.RunCacheSize < 1 {
		c.RunCacheSize = 1
	}
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	d.config = c
	log.Debugf("Loaded config: %#v", c)

	d.rawFS = corfs.InferFilesystem(c.Params.RawDataPath)
	d.inputFS = corfs.InferFilesystem(c.Params.InputPath)

	lister, err := NewRunLister(d.rawFS, c.Params.RawDataPath, c.Params.PartPattern, c.RunCacheSize)
	if err != nil {
		return err
	}
	d.lister = lister

	if c.StagingLocation == "" {
		c.StagingLocation = c.Params.InputPath
	}
	d.stagingFS = corfs.InferFilesystem(c.StagingLocation)
	stagingType := corfs.InferType(c.StagingLocation)

	switch {
	case c.DryRun:
		d.submitter = dryRunSubmitter{}
	case c.Lambda:
		if stagingType != corfs.S3 {
			return fmt.Errorf("%w: lambda submission needs an s3:// staging_location", ErrInvalidConfig)
		}
		client := corlambda.NewLambdaClient()
		client.MaxRetries = c.LambdaRetries
		if !client.FunctionExists(c.LambdaFunction) {
			return fmt.Errorf("%w: relay function '%s' is not deployed", ErrInvalidConfig, c.LambdaFunction)
		}
		d.submitter = &lambdaSubmitter{
			LambdaClient: client,
			functionName: c.LambdaFunction,
			session:      d.session,
			fsType:       stagingType,
		}
	default:
		if stagingType != corfs.Local {
			return fmt.Errorf("%w: local submission needs a local staging_location", ErrInvalidConfig)
		}
		d.submitter = shellSubmitter{shell: "sh"}
	}
	return nil
}

// Report summarizes the submission of one run
type Report struct {
	Run       string
	FinalPart int
	Batches   []Batch
	Submitted []Batch
}

// BatchFailure is a batch whose submission failed
type BatchFailure struct {
	Batch Batch
	Err   error
}

// SubmissionError reports a run whose submission stopped partway. Batches in
// Submitted were accepted by the scheduler and are not rolled back; Pending
// batches were never attempted.
type SubmissionError struct {
	Run       string
	Submitted []Batch
	Failed    []BatchFailure
	Pending   []Batch
}

func batchList(batches []Batch) string {
	names := make([]string, len(batches))
	for i, b := range batches {
		names[i] = b.String()
	}
	return strings.Join(names, ", ")
}

func (e *SubmissionError) Error() string {
	failures := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		failures[i] = fmt.Sprintf("%s: %s", f.Batch, f.Err)
	}
	return fmt.Sprintf("run %s: %d batch(es) failed (%s); submitted: [%s]; not attempted: [%s]",
		e.Run, len(e.Failed), strings.Join(failures, "; "), batchList(e.Submitted), batchList(e.Pending))
}

func (e *SubmissionError) Unwrap() error {
	if len(e.Failed) == 0 {
		return nil
	}
	return e.Failed[0].Err
}

// ResumeFrom returns the first part file that was not submitted
func (e *SubmissionError) ResumeFrom() int {
	first := -1
	for _, f := range e.Failed {
		if first < 0 || f.Batch.First < first {
			first = f.Batch.First
		}
	}
	return first
}

// checkBeamDB verifies the run's beamdb file is present in the input area
func (d *Driver) checkBeamDB(run string) error {
	path := d.config.Params.BeamDBFile(run)
	if _, err := d.inputFS.Stat(path); err != nil {
		return fmt.Errorf("%w: %s (%s)", ErrMissingBeamDB, path, err)
	}
	return nil
}

// plan validates a request and generates every batch's job scripts. Nothing
// is written and nothing is submitted.
func (d *Driver) plan(req Request) (*Report, [][]jobscript.Artifact, error) {
	if strings.TrimSpace(req.Run) == "" {
		return nil, nil, fmt.Errorf("%w: no run given", ErrInvalidConfig)
	}

	parts, err := d.lister.Parts(req.Run)
	if err != nil {
		return nil, nil, err
	}
	finalPart := parts.FinalPart()

	first, last := req.First, req.Last
	if req.All {
		first, last = 0, finalPart
	}

	batches, err := PartitionBatches(first, last, req.StepSize, finalPart)
	if err != nil {
		return nil, nil, err
	}

	if d.config.RequireBeamDB {
		if err := d.checkBeamDB(req.Run); err != nil {
			return nil, nil, err
		}
	}

	jobs := make([][]jobscript.Artifact, len(batches))
	for i, b := range batches {
		fetchFirst, fetchLast := b.FetchRange()
		jobs[i], err = jobscript.Generate(d.config.Params, jobscript.Job{
			Run:        req.Run,
			First:      b.First,
			Last:       b.Last,
			FetchFirst: fetchFirst,
			FetchLast:  fetchLast,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	return &Report{Run: req.Run, FinalPart: finalPart, Batches: batches}, jobs, nil
}

// submitBatch stages one batch's scripts and submits them. The scheduler
// transfers the grid and container scripts to the worker when the job starts,
// so after a successful submission cleanup only removes the submission script.
func (d *Driver) submitBatch(ctx context.Context, run string, b Batch, artifacts []jobscript.Artifact) (err error) {
	jobName := jobscript.JobName(run, b.First, b.Last)
	dir := d.stagingFS.Join(d.config.StagingLocation, d.session, jobName)
	staged, err := jobscript.Stage(d.stagingFS, dir, artifacts)
	if err != nil {
		return err
	}
	if d.config.Cleanup {
		defer func() {
			var cleanupErr error
			if err != nil || d.config.DryRun {
				cleanupErr = staged.Cleanup()
			} else {
				cleanupErr = staged.Remove(jobscript.SubmitScript)
			}
			if cleanupErr != nil {
				log.Warnf("Could not remove staged scripts for %s: %s", jobName, cleanupErr)
			}
		}()
	}

	output, err := d.submitter.Submit(ctx, submission{
		Run:     run,
		Batch:   b,
		JobName: jobName,
		Staged:  staged,
	})
	if output != "" {
		log.Debugf("%s output:\n%s", jobName, output)
	}
	return err
}

// Submit partitions the requested part range of a run and submits one grid
// job per batch. Every configuration error is reported before any script is
// staged. If a submission fails, a *SubmissionError lists which batches were
// already submitted.
func (d *Driver) Submit(ctx context.Context, req Request) (*Report, error) {
	report, jobs, err := d.plan(req)
	if err != nil {
		return nil, err
	}

	logger := log.WithFields(log.Fields{"session": d.session, "run": req.Run})
	logger.Infof("Submitting %d jobs for run %s p%d-%d (final part p%d)",
		len(report.Batches), req.Run, report.Batches[0].First, report.Batches[len(report.Batches)-1].Last, report.FinalPart)

	bar := pb.New(len(report.Batches)).Prefix("Submit")
	bar.Output = d.stderr
	if !d.config.Verbose {
		bar.Start()
		defer bar.Finish()
	}

	results := make([]error, len(report.Batches))
	attempted := make([]bool, len(report.Batches))
	done := make([]bool, len(report.Batches))

	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false
	next := 0
	// finish records a batch result and prints every completed batch up to
	// the first one still in flight, so output stays in batch order
	finish := func(i int, err error) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = err
		done[i] = true
		if err != nil {
			failed = true
		}
		for ; next < len(done) && done[next]; next++ {
			if results[next] == nil {
				fmt.Fprintf(d.stdout, "Run %s %s sent\n", req.Run, report.Batches[next])
			}
		}
	}
	sem := semaphore.NewWeighted(int64(d.config.MaxConcurrency))
	for i, b := range report.Batches {
		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		attempted[i] = true

		wg.Add(1)
		go func(i int, b Batch) {
			defer wg.Done()
			defer sem.Release(1)
			defer bar.Increment()

			err := d.submitBatch(ctx, req.Run, b, jobs[i])
			if err != nil {
				logger.Errorf("Error when submitting %s: %s", b, err)
			}
			finish(i, err)
		}(i, b)

		if d.config.MaxConcurrency == 1 {
			// keep submissions strictly ordered
			wg.Wait()
		}
	}
	wg.Wait()

	subErr := &SubmissionError{Run: req.Run}
	for i, b := range report.Batches {
		switch {
		case !attempted[i]:
			subErr.Pending = append(subErr.Pending, b)
		case results[i] != nil:
			subErr.Failed = append(subErr.Failed, BatchFailure{Batch: b, Err: results[i]})
		default:
			report.Submitted = append(report.Submitted, b)
		}
	}
	subErr.Submitted = report.Submitted

	if len(subErr.Failed) == 0 && len(subErr.Pending) > 0 {
		err := ctx.Err()
		if err == nil {
			err = errors.New("submission stopped")
		}
		subErr.Failed = append(subErr.Failed, BatchFailure{Batch: subErr.Pending[0], Err: err})
		subErr.Pending = subErr.Pending[1:]
	}
	if len(subErr.Failed) > 0 {
		if len(report.Submitted) > 0 {
			logger.Warnf("Already submitted: %s", batchList(report.Submitted))
		}
		logger.Warnf("Resume with --first %d", subErr.ResumeFrom())
		return report, subErr
	}

	return report, nil
}

var (
	runFlag         = pflag.String("run", "", "Run number (prompted for when empty)")
	allFlag         = pflag.Bool("all", false, "Submit every part file of the run")
	firstFlag       = pflag.Int("first", -1, "First part file to submit")
	lastFlag        = pflag.Int("last", -1, "Last part file (inclusive) to submit")
	stepFlag        = pflag.Int("step", 0, "Part files per job")
	dryRunFlag      = pflag.Bool("dry-run", false, "Stage job scripts without submitting them")
	lambdaFlag      = pflag.Bool("lambda", false, "Submit through the relay Lambda function")
	concurrencyFlag = pflag.Int("concurrency", 1, "Maximum submissions in flight")
	stagingFlag     = pflag.String("staging", "", "Staging location for job scripts (local or s3://)")
	verboseFlag     = pflag.BoolP("verbose", "v", false, "Enable debug logging")
)

func bindFlags() {
	bindings := map[string]string{
		"step_size":        "step",
		"dry_run":          "dry-run",
		"lambda":           "lambda",
		"max_concurrency":  "concurrency",
		"staging_location": "staging",
		"verbose":          "verbose",
	}
	for key, flagName := range bindings {
		viper.BindPFlag(key, pflag.Lookup(flagName))
	}
}

// requestFromFlags builds a Request from command line flags. It reports false
// when no run was given and the user has to be prompted.
func (d *Driver) requestFromFlags() (Request, bool, error) {
	if *runFlag == "" {
		return Request{}, false, nil
	}

	req := Request{
		Run:      *runFlag,
		All:      *allFlag,
		First:    *firstFlag,
		Last:     *lastFlag,
		StepSize: d.config.StepSize,
	}
	if !req.All && (req.First < 0 || req.Last < 0) {
		return req, true, fmt.Errorf("%w: give --all or both --first and --last", ErrInvalidConfig)
	}
	if req.StepSize <= 0 {
		return req, true, fmt.Errorf("%w: give --step", ErrInvalidConfig)
	}
	return req, true, nil
}

func (d *Driver) exitWithError(err error) {
	fmt.Fprintf(d.stderr, "\n### ERROR: %s ###\n\n", err)
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		os.Exit(2)
	}
	os.Exit(1)
}

// Main starts the Driver.
// Inside AWS Lambda, Main serves relay requests instead.
func (d *Driver) Main() {
	if runningInLambda() {
		lambda.Start(handleRequest)
		return
	}

	pflag.Parse()
	bindFlags()
	if err := d.configure(); err != nil {
		d.exitWithError(err)
	}

	req, ok, err := d.requestFromFlags()
	if err != nil {
		d.exitWithError(err)
	}
	if !ok {
		req, err = promptRequest(newPrompter(d.stdin, d.stdout), d.lister.FinalPart, d.config.StepSize)
		if err != nil {
			d.exitWithError(err)
		}
	}

	start := time.Now()
	report, err := d.Submit(context.Background(), req)
	if err != nil {
		d.exitWithError(err)
	}

	fmt.Fprintf(d.stdout, "\nJobs successfully submitted! (%d jobs in %s)\n\n", len(report.Submitted), time.Since(start).Round(time.Millisecond))
}
