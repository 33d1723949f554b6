package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datachat/internal/dataset"
	"datachat/internal/pipeline"
)

type fakeClient struct {
	reply   string
	err     error
	system  string
	prompts []string
}

func (f *fakeClient) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeClient) CompleteWithSystem(_ context.Context, system, prompt string) (string, error) {
	f.system = system
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestSynthesizeRecords(t *testing.T) {
	client := &fakeClient{reply: "  Rover 7 has the highest battery level at 94%.  "}
	outcome := &pipeline.Outcome{
		Records: []dataset.Record{
			{"unit": "Rover 7", "battery": 94.0},
			{"unit": "Rover 2", "battery": 61.0},
		},
		Explanation: "Sorted rovers by battery level.",
		Summary:     pipeline.Summary{RunID: "r1", Attempts: 1, RecordsBefore: 12, RecordsAfter: 2},
	}

	ans, err := NewSynthesizer(client).Synthesize(context.Background(), "Which rover has the most charge?", outcome)
	require.NoError(t, err)

	assert.Equal(t, "Rover 7 has the highest battery level at 94%.", ans.Text)
	assert.Equal(t, outcome.Summary, ans.Summary)

	require.Len(t, client.prompts, 1)
	prompt := client.prompts[0]
	assert.Contains(t, prompt, "Which rover has the most charge?")
	assert.Contains(t, prompt, "Sorted rovers by battery level.")
	assert.Contains(t, prompt, "Rover 7")
	assert.Contains(t, prompt, "(2 of 12)")
	assert.Contains(t, client.system, "only the data provided")
}

func TestSynthesizeScalar(t *testing.T) {
	client := &fakeClient{reply: "The total is 42."}
	outcome := &pipeline.Outcome{
		Scalar:   42.0,
		IsScalar: true,
		Summary:  pipeline.Summary{Attempts: 1},
	}

	_, err := NewSynthesizer(client).Synthesize(context.Background(), "How many in total?", outcome)
	require.NoError(t, err)

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "Computed result: 42")
	assert.NotContains(t, prompt, "Matching records")
}

func TestSynthesizeOmitsEmptyExplanation(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	outcome := &pipeline.Outcome{Records: []dataset.Record{}}

	_, err := NewSynthesizer(client).Synthesize(context.Background(), "q", outcome)
	require.NoError(t, err)
	assert.False(t, strings.Contains(client.prompts[0], "How the data was selected"))
}

func TestSynthesizeModelError(t *testing.T) {
	client := &fakeClient{err: errors.New("rate limited")}
	outcome := &pipeline.Outcome{Records: []dataset.Record{{"a": 1}}}

	_, err := NewSynthesizer(client).Synthesize(context.Background(), "q", outcome)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis call failed")
}
