package gridsub

import (
	"errors"
	"fmt"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// Configuration errors returned by PartitionBatches. All of them wrap
// ErrInvalidConfig.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrNegativePart     = fmt.Errorf("%w: part indices must be non-negative", ErrInvalidConfig)
	ErrInvalidRange     = fmt.Errorf("%w: first part file > last part file", ErrInvalidConfig)
	ErrBeyondFinalPart  = fmt.Errorf("%w: last part file is past the final part of the run", ErrInvalidConfig)
	ErrInvalidStepSize  = fmt.Errorf("%w: step size must be at least 1", ErrInvalidConfig)
	ErrStepSizeTooLarge = fmt.Errorf("%w: step size larger than the number of part files selected", ErrInvalidConfig)
)

// Batch is a contiguous range of part files submitted as one grid job.
// First and Last are inclusive. For example, a Batch with First 5 and Last 9
// describes 5 part files.
//
// NeedsBefore and NeedsAfter report whether the part immediately before First
// or after Last must also be transferred. The trigger overlap toolchain can
// attribute triggers of one part to its neighbours, so every batch boundary
// that is not an edge of the whole run needs its neighbour.
type Batch struct {
	First       int  // The first part file of the batch
	Last        int  // The last part file (inclusive) of the batch
	NeedsBefore bool // Whether part First-1 is fetched as well
	NeedsAfter  bool // Whether part Last+1 is fetched as well
}

// Size returns the number of part files that the Batch spans
func (b Batch) Size() int {
	return b.Last - b.First + 1
}

// FetchRange returns the inclusive range of part files transferred for the
// batch, including any neighbours.
func (b Batch) FetchRange() (first, last int) {
	first, last = b.First, b.Last
	if b.NeedsBefore {
		first--
	}
	if b.NeedsAfter {
		last++
	}
	return first, last
}

func (b Batch) String() string {
	return fmt.Sprintf("p%d-%d", b.First, b.Last)
}

// validatePartition checks the partition inputs without producing batches
func validatePartition(firstPart, lastPart, stepSize, finalPart int) error {
	if firstPart < 0 || lastPart < 0 || finalPart < 0 {
		return ErrNegativePart
	}
	if firstPart > lastPart {
		return ErrInvalidRange
	}
	if lastPart > finalPart {
		return fmt.Errorf("%w (last %d, final %d)", ErrBeyondFinalPart, lastPart, finalPart)
	}
	if stepSize < 1 {
		return ErrInvalidStepSize
	}
	if stepSize-1 > lastPart-firstPart {
		return fmt.Errorf("%w (step %d, p%d-%d selected)", ErrStepSizeTooLarge, stepSize, firstPart, lastPart)
	}
	return nil
}

// PartitionBatches splits the part range [firstPart, lastPart] into batches of
// at most stepSize parts. Unless the range is evenly divisible by stepSize,
// the last batch is smaller than the others. finalPart is the highest part
// index of the whole run and decides NeedsAfter.
func PartitionBatches(firstPart, lastPart, stepSize, finalPart int) ([]Batch, error) {
	if err := validatePartition(firstPart, lastPart, stepSize, finalPart); err != nil {
		return nil, err
	}

	batches := make([]Batch, 0, (lastPart-firstPart)/stepSize+1)
	for i := firstPart; ; {
		// lastPart-i cannot overflow, i+stepSize-1 can
		last := lastPart
		if stepSize-1 < lastPart-i {
			last = i + stepSize - 1
		}
		batches = append(batches, Batch{
			First:       i,
			Last:        last,
			NeedsBefore: i != 0,
			NeedsAfter:  last != finalPart,
		})
		if last == lastPart {
			break
		}
		i = last + 1
	}

	log.Debugf("Partitioned p%d-%d into %s batches of up to %s part files",
		firstPart, lastPart, humanize.Comma(int64(len(batches))), humanize.Comma(int64(stepSize)))
	return batches, nil
}
