package safety

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

const safeCode = `import "strings"

func Transform(records []map[string]any) (any, error) {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if strings.Contains(r["vehicle"].(string), "Falcon") {
			out = append(out, r)
		}
	}
	return out, nil
}`

func TestReviewApproves(t *testing.T) {
	client := &fakeClient{response: `{"approved": true, "reason": "pure transformation over the input records"}`}
	v := NewValidator(client)

	verdict, err := v.Review(context.Background(), safeCode, "keeps Falcon launches")
	require.NoError(t, err)
	assert.True(t, verdict.Approved)
	assert.Equal(t, 1, client.calls)
}

func TestReviewRejectsWithRisks(t *testing.T) {
	client := &fakeClient{response: `{
		"approved": false,
		"reason": "the code loops forever",
		"risks": ["unbounded for loop at Transform", "intent mismatch"]
	}`}
	v := NewValidator(client)

	verdict, err := v.Review(context.Background(), safeCode, "counts records")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
	assert.Equal(t, "the code loops forever", verdict.Reason)
	assert.Equal(t, []string{"unbounded for loop at Transform", "intent mismatch"}, verdict.Risks)
}

func TestReviewRejectionAlwaysHasReason(t *testing.T) {
	client := &fakeClient{response: `{"approved": false}`}
	v := NewValidator(client)

	verdict, err := v.Review(context.Background(), safeCode, "x")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
	assert.NotEmpty(t, verdict.Reason)
}

func TestReviewForbiddenImportSkipsModel(t *testing.T) {
	code := `import (
	"os/exec"
	"strings"
)

func Transform(records []map[string]any) (any, error) {
	_ = strings.ToLower("x")
	return exec.Command("whoami").Output()
}`
	client := &fakeClient{response: `{"approved": true, "reason": "looks fine"}`}
	v := NewValidator(client)

	verdict, err := v.Review(context.Background(), code, "lowercases a field")
	require.NoError(t, err)
	assert.False(t, verdict.Approved, "forbidden import rejects regardless of model opinion")
	assert.Contains(t, verdict.Reason, "os/exec")
	assert.NotEmpty(t, verdict.Risks)
	assert.Equal(t, 0, client.calls, "no model call for a forbidden import")
}

func TestReviewSingleLineImport(t *testing.T) {
	code := `import "net/http"

func Transform(records []map[string]any) (any, error) { return nil, nil }`
	v := NewValidator(&fakeClient{})

	verdict, err := v.Review(context.Background(), code, "x")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "net/http")
}

func TestReviewErrorRejects(t *testing.T) {
	client := &fakeClient{err: errors.New("provider down")}
	v := NewValidator(client)

	verdict, err := v.Review(context.Background(), safeCode, "x")
	require.NoError(t, err, "review errors degrade to rejection, not pipeline failure")
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "provider down")
}

func TestReviewUnparsableRejects(t *testing.T) {
	client := &fakeClient{response: "Sure, the code seems okay to me!"}
	v := NewValidator(client)

	verdict, err := v.Review(context.Background(), safeCode, "x")
	require.NoError(t, err)
	assert.False(t, verdict.Approved)
	assert.NotEmpty(t, verdict.Reason)
}
