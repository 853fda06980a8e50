package gridsub

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/annie-grid/gridsub/internal/pkg/corfs"
	humanize "github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
)

// ErrEmptyRun is returned when a run directory holds no numbered part files
var ErrEmptyRun = errors.New("no part files found for run")

// partSuffix matches the trailing part number of a raw data file name,
// e.g. the 17 of RAWDataR4314S0p17
var partSuffix = regexp.MustCompile(`(\d+)$`)

// partIndex extracts the trailing decimal suffix of a part file name.
func partIndex(name string) (int, bool) {
	match := partSuffix.FindString(path.Base(name))
	if match == "" {
		return 0, false
	}
	index, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return index, true
}

// maxReportedGaps bounds how many missing part indices are logged
const maxReportedGaps = 10

// RunParts is the set of part indices present for a run
type RunParts struct {
	Run     string
	Indices []int // sorted ascending, no duplicates
	Bytes   int64 // combined size of the part files
}

// FinalPart returns the highest part index of the run
func (r RunParts) FinalPart() int {
	return r.Indices[len(r.Indices)-1]
}

// Count returns the number of part files present
func (r RunParts) Count() int {
	return len(r.Indices)
}

// Missing returns how many indices between 0 and FinalPart have no part
// file, along with up to limit of them in ascending order.
func (r RunParts) Missing(limit int) (count int, first []int) {
	count = r.FinalPart() + 1 - len(r.Indices)
	next := 0
	for _, index := range r.Indices {
		for ; next < index && len(first) < limit; next++ {
			first = append(first, next)
		}
		if len(first) == limit {
			break
		}
		next = index + 1
	}
	return count, first
}

// RunLister discovers the part files of runs stored under a raw data location.
// Listings are cached, so repeated lookups of a run list its directory once.
type RunLister struct {
	fs          corfs.FileSystem
	rawDataPath string
	partPattern string
	cache       *lru.Cache
}

// NewRunLister creates a RunLister over rawDataPath that remembers up to
// cacheSize run listings. Only files named as partPattern renders them, given
// the run and part index, are counted as parts; an empty partPattern accepts
// any name with a numeric suffix.
func NewRunLister(fs corfs.FileSystem, rawDataPath, partPattern string, cacheSize int) (*RunLister, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &RunLister{
		fs:          fs,
		rawDataPath: rawDataPath,
		partPattern: partPattern,
		cache:       cache,
	}, nil
}

// matchesPattern reports whether a part file name is the one partPattern
// gives for its index
func (r *RunLister) matchesPattern(run, name string, index int) bool {
	if r.partPattern == "" {
		return true
	}
	return path.Base(name) == fmt.Sprintf(r.partPattern, run, index)
}

// RunDir returns the location of a run's raw data directory
func (r *RunLister) RunDir(run string) string {
	return r.fs.Join(r.rawDataPath, run)
}

// Parts lists the run directory and returns the part indices present.
func (r *RunLister) Parts(run string) (RunParts, error) {
	runDir := r.RunDir(run)
	if cached, ok := r.cache.Get(runDir); ok {
		return cached.(RunParts), nil
	}

	files, err := r.fs.ListFiles(r.fs.Join(runDir, "*"))
	if err != nil {
		return RunParts{}, fmt.Errorf("listing %s: %w", runDir, err)
	}

	parts := RunParts{Run: run}
	seen := make(map[int]bool, len(files))
	for _, file := range files {
		index, ok := partIndex(file.Name)
		if !ok {
			log.Warnf("Skipping %s: no part number in file name", file.Name)
			continue
		}
		if !r.matchesPattern(run, file.Name, index) {
			log.Warnf("Skipping %s: not a part file of run %s", file.Name, run)
			continue
		}
		if seen[index] {
			log.Warnf("Duplicate part file for p%d: %s", index, file.Name)
			continue
		}
		seen[index] = true
		parts.Indices = append(parts.Indices, index)
		parts.Bytes += file.Size
	}
	if len(parts.Indices) == 0 {
		return RunParts{}, fmt.Errorf("%w: %s", ErrEmptyRun, runDir)
	}
	sort.Ints(parts.Indices)

	if count, first := parts.Missing(maxReportedGaps); count > 0 {
		log.Warnf("Run %s is missing %s part files below p%d, starting with %v",
			run, humanize.Comma(int64(count)), parts.FinalPart(), first)
	}
	log.Infof("Run %s: %d part files (%s)", run, parts.Count(), humanize.Bytes(uint64(parts.Bytes)))

	r.cache.Add(runDir, parts)
	return parts, nil
}

// FinalPart returns the highest part index present for run
func (r *RunLister) FinalPart(run string) (int, error) {
	parts, err := r.Parts(run)
	if err != nil {
		return 0, err
	}
	return parts.FinalPart(), nil
}
