package gridsub

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Input validation errors
var (
	ErrInvalidAnswer = errors.New("please type y or n")
	ErrInvalidNumber = errors.New("expected a whole number")
	ErrNoInput       = errors.New("input closed before all questions were answered")
)

// Request describes what the user asked to submit
type Request struct {
	Run      string
	All      bool // Submit every part file of the run
	First    int  // First part file, when not All
	Last     int  // Last part file (inclusive), when not All
	StepSize int  // Maximum part files per job
}

const reminderBanner = `
------- Please ensure you have a produced a <RUN_NUMBER>_beamdb file prior to job submission -------

*********************** Don't forget about Daylight Savings!! **************************
`

// prompter asks questions on out and reads one line per answer from in
type prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprintf(p.out, "\n%s  ", question)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", ErrNoInput
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

func (p *prompter) askYesNo(question string) (bool, error) {
	answer, err := p.ask(question + " (y/n) ")
	if err != nil {
		return false, err
	}
	switch answer {
	case "y":
		return true, nil
	case "n":
		return false, nil
	}
	return false, fmt.Errorf("%w (got %q)", ErrInvalidAnswer, answer)
}

func (p *prompter) askInt(question string) (int, error) {
	answer, err := p.ask(question)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Errorf("%w (got %q)", ErrInvalidNumber, answer)
	}
	return value, nil
}

// promptRequest interactively fills in a Request. finalPart is consulted
// once the run is known, so the user sees how many part files exist before
// choosing a step size. A stepSize greater than zero skips that question.
func promptRequest(p *prompter, finalPart func(run string) (int, error), stepSize int) (Request, error) {
	var req Request
	var err error

	fmt.Fprint(p.out, reminderBanner)

	req.Run, err = p.ask("Run number:")
	if err != nil {
		return req, err
	}
	if req.Run == "" {
		return req, fmt.Errorf("%w: empty run number", ErrInvalidConfig)
	}

	req.All, err = p.askYesNo("Would you like to submit the entire run?")
	if err != nil {
		return req, err
	}

	final, err := finalPart(req.Run)
	if err != nil {
		return req, err
	}

	if req.All {
		fmt.Fprintf(p.out, "\nThere are %d part files in this run. Proceeding with job submissions...\n", final+1)
		req.First, req.Last = 0, final
	} else {
		req.First, err = p.askInt("Please specify the first part file of the batch:")
		if err != nil {
			return req, err
		}
		req.Last, err = p.askInt("Please specify the final part file of the batch:")
		if err != nil {
			return req, err
		}
	}

	req.StepSize = stepSize
	if req.StepSize <= 0 {
		req.StepSize, err = p.askInt("Please specify how many part files per job you would like to submit:")
		if err != nil {
			return req, err
		}
	}
	fmt.Fprintln(p.out)

	return req, nil
}
