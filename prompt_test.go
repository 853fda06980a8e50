package gridsub

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFinalPart(final int) func(string) (int, error) {
	return func(string) (int, error) {
		return final, nil
	}
}

func TestPromptRequestWholeRun(t *testing.T) {
	out := new(bytes.Buffer)
	p := newPrompter(strings.NewReader("4314\ny\n5\n"), out)

	req, err := promptRequest(p, fixedFinalPart(9), 0)
	require.Nil(t, err)

	assert.Equal(t, Request{Run: "4314", All: true, First: 0, Last: 9, StepSize: 5}, req)
	assert.Contains(t, out.String(), "There are 10 part files in this run.")
	assert.Contains(t, out.String(), "beamdb")
}

func TestPromptRequestPartialRun(t *testing.T) {
	out := new(bytes.Buffer)
	p := newPrompter(strings.NewReader(" 4314 \nn\n2\n7\n3\n"), out)

	req, err := promptRequest(p, fixedFinalPart(20), 0)
	require.Nil(t, err)

	assert.Equal(t, Request{Run: "4314", All: false, First: 2, Last: 7, StepSize: 3}, req)
	assert.NotContains(t, out.String(), "There are")
}

func TestPromptRequestConfiguredStepSize(t *testing.T) {
	p := newPrompter(strings.NewReader("4314\ny\n"), new(bytes.Buffer))

	req, err := promptRequest(p, fixedFinalPart(9), 4)
	require.Nil(t, err)
	assert.Equal(t, 4, req.StepSize)
}

func TestPromptRequestInvalidAnswers(t *testing.T) {
	var invalidTests = []struct {
		input    string
		expected error
	}{
		{"4314\nyes\n", ErrInvalidAnswer},
		{"4314\nY\n", ErrInvalidAnswer},
		{"4314\nn\nfirst\n", ErrInvalidNumber},
		{"4314\nn\n0\n9\nfive\n", ErrInvalidNumber},
		{"4314\n", ErrNoInput},
		{"", ErrNoInput},
		{"\n", ErrInvalidConfig},
	}

	for _, test := range invalidTests {
		p := newPrompter(strings.NewReader(test.input), new(bytes.Buffer))
		_, err := promptRequest(p, fixedFinalPart(9), 0)
		assert.True(t, errors.Is(err, test.expected), "%q: got %v", test.input, err)
	}
}

func TestPromptRequestListingError(t *testing.T) {
	p := newPrompter(strings.NewReader("9999\ny\n5\n"), new(bytes.Buffer))

	_, err := promptRequest(p, func(string) (int, error) { return 0, ErrEmptyRun }, 0)
	assert.True(t, errors.Is(err, ErrEmptyRun))
}
