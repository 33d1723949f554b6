package sandbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datachat/internal/config"
	"datachat/internal/dataset"
)

func testExecutor() *Executor {
	return NewExecutor(config.SandboxConfig{
		Timeout:      config.Duration(2 * time.Second),
		MaxCodeBytes: 64 * 1024,
	})
}

func inputRecords() []dataset.Record {
	return []dataset.Record{
		{"mission_name": "Starlink-31", "amount": 150.0},
		{"mission_name": "CRS-20", "amount": 62.0},
	}
}

func TestExecuteTransformRecords(t *testing.T) {
	code := `func Transform(records []map[string]any) (any, error) {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if r["amount"].(float64) > 100 {
			out = append(out, r)
		}
	}
	return out, nil
}`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	require.True(t, res.Success, "error: %s", res.Err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "Starlink-31", res.Records[0]["mission_name"])
	assert.False(t, res.IsScalar())
}

func TestExecuteScalarReturn(t *testing.T) {
	code := `func Transform(records []map[string]any) (any, error) {
	total := 0.0
	for _, r := range records {
		total += r["amount"].(float64)
	}
	return total, nil
}`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	require.True(t, res.Success, "error: %s", res.Err)
	assert.True(t, res.IsScalar())
	assert.Equal(t, 212.0, res.Scalar)
}

func TestExecuteAllowedImports(t *testing.T) {
	code := `import (
	"sort"
	"strings"
)

func Transform(records []map[string]any) (any, error) {
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r["mission_name"].(string))
	}
	sort.Strings(names)
	return strings.Join(names, ","), nil
}`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	require.True(t, res.Success, "error: %s", res.Err)
	assert.Equal(t, "CRS-20,Starlink-31", res.Scalar)
}

func TestExecuteForbiddenImport(t *testing.T) {
	tests := []struct {
		name string
		pkg  string
	}{
		{"filesystem", "os"},
		{"processes", "os/exec"},
		{"network", "net/http"},
		{"syscalls", "syscall"},
		{"unsafe", "unsafe"},
		{"io", "io"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := `import "` + tt.pkg + `"

func Transform(records []map[string]any) (any, error) { return nil, nil }`
			res := testExecutor().Execute(context.Background(), code, inputRecords())

			assert.False(t, res.Success)
			assert.Equal(t, FailureForbidden, res.Failure)
			assert.Contains(t, res.Err, tt.pkg)
		})
	}
}

func TestExecuteEnvironmentInvisible(t *testing.T) {
	// Even without the import screen, os symbols are never loaded into the
	// interpreter, so environment access fails structurally. The host
	// environment must be unobservable either way.
	const marker = "DATACHAT_SANDBOX_CANARY"
	t.Setenv(marker, "leaked")

	code := `import "os"

func Transform(records []map[string]any) (any, error) {
	return os.Getenv("` + marker + `"), nil
}`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	assert.False(t, res.Success)
	if res.Scalar != nil {
		assert.NotEqual(t, "leaked", res.Scalar)
	}
}

func TestExecuteRuntimeError(t *testing.T) {
	code := `import "fmt"

func Transform(records []map[string]any) (any, error) {
	return nil, fmt.Errorf("field %q not present", "velocity")
}`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	assert.False(t, res.Success)
	assert.Equal(t, FailureRuntime, res.Failure)
	assert.Contains(t, res.Err, "velocity")
}

func TestExecutePanicRecovered(t *testing.T) {
	code := `func Transform(records []map[string]any) (any, error) {
	var m map[string]int
	m["boom"] = 1
	return m, nil
}`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	assert.False(t, res.Success)
	assert.Equal(t, FailureRuntime, res.Failure)
}

func TestExecuteTimeout(t *testing.T) {
	x := NewExecutor(config.SandboxConfig{Timeout: config.Duration(100 * time.Millisecond), MaxCodeBytes: 64 * 1024})
	code := `import "time"

func Transform(records []map[string]any) (any, error) {
	time.Sleep(5 * time.Second)
	return "done", nil
}`
	start := time.Now()
	res := x.Execute(context.Background(), code, inputRecords())

	assert.False(t, res.Success)
	assert.Equal(t, FailureTimeout, res.Failure)
	assert.Less(t, time.Since(start), 2*time.Second, "orchestrator must not block on a stuck execution")
}

func TestExecuteBadShape(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"nil return", `return nil, nil`},
		{"string slice", `return []string{"a", "b"}, nil`},
		{"map return", `return map[string]any{"a": 1}, nil`},
		{"mixed slice", `return []any{map[string]any{"a": 1}, "not a record"}, nil`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := `func Transform(records []map[string]any) (any, error) { ` + tt.body + ` }`
			res := testExecutor().Execute(context.Background(), code, inputRecords())

			assert.False(t, res.Success)
			assert.Equal(t, FailureBadShape, res.Failure)
			assert.NotEmpty(t, res.Err)
		})
	}
}

func TestExecuteWrongSignature(t *testing.T) {
	code := `func Transform(n int) int { return n }`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	assert.False(t, res.Success)
	assert.Equal(t, FailureRuntime, res.Failure)
	assert.Contains(t, res.Err, "signature")
}

func TestExecuteMissingTransform(t *testing.T) {
	code := `func Process(records []map[string]any) (any, error) { return nil, nil }`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	assert.False(t, res.Success)
	assert.Equal(t, FailureRuntime, res.Failure)
}

func TestExecuteDoesNotParse(t *testing.T) {
	res := testExecutor().Execute(context.Background(), "this is not go code {", inputRecords())

	assert.False(t, res.Success)
	assert.Equal(t, FailureForbidden, res.Failure)
	assert.Contains(t, res.Err, "parse")
}

func TestExecuteOversizedCode(t *testing.T) {
	x := NewExecutor(config.SandboxConfig{Timeout: config.Duration(time.Second), MaxCodeBytes: 10})
	res := x.Execute(context.Background(), "func Transform(records []map[string]any) (any, error) { return 1, nil }", nil)

	assert.False(t, res.Success)
	assert.Equal(t, FailureForbidden, res.Failure)
}

func TestExecuteInputIsolation(t *testing.T) {
	code := `func Transform(records []map[string]any) (any, error) {
	for _, r := range records {
		r["mission_name"] = "overwritten"
	}
	return records, nil
}`
	original := inputRecords()
	res := testExecutor().Execute(context.Background(), code, original)

	require.True(t, res.Success, "error: %s", res.Err)
	assert.Equal(t, "overwritten", res.Records[0]["mission_name"])
	assert.Equal(t, "Starlink-31", original[0]["mission_name"], "source records stay immutable")
}

func TestExecuteNoHostSideEffects(t *testing.T) {
	// A hostile transform must not be able to touch the filesystem. The
	// sandbox never loads os symbols, so the best it can do is fail.
	path := os.TempDir() + "/datachat_sandbox_probe"
	_ = os.Remove(path)

	code := `import "os"

func Transform(records []map[string]any) (any, error) {
	return nil, os.WriteFile("` + path + `", []byte("escaped"), 0644)
}`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	assert.False(t, res.Success)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "sandboxed code must not create files")
}

func TestExecuteSyntaxErrorAfterImports(t *testing.T) {
	// The import section parses; the body does not. The screen still
	// rejects it with a parse diagnostic instead of letting it reach the
	// interpreter.
	code := `import "strings"

func Transform(records []map[string]any) (any, error) { return strings.`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	assert.False(t, res.Success)
	assert.Equal(t, FailureForbidden, res.Failure)
	assert.Contains(t, res.Err, "parse")
}

func TestExecuteEmptyResultSet(t *testing.T) {
	// A nil accumulator whose filter matched nothing is an empty record
	// set, never a scalar.
	code := `func Transform(records []map[string]any) (any, error) {
	var out []map[string]any
	for _, r := range records {
		if r["amount"].(float64) > 100000 {
			out = append(out, r)
		}
	}
	return out, nil
}`
	res := testExecutor().Execute(context.Background(), code, inputRecords())

	require.True(t, res.Success, "error: %s", res.Err)
	assert.False(t, res.IsScalar())
	require.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
}

func TestExecuteCancellationIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	code := `import "time"

func Transform(records []map[string]any) (any, error) {
	time.Sleep(5 * time.Second)
	return "done", nil
}`
	res := testExecutor().Execute(ctx, code, inputRecords())

	assert.False(t, res.Success)
	assert.NotEqual(t, FailureTimeout, res.Failure, "caller cancellation must not read as a code timeout")
	assert.Contains(t, res.Err, "cancelled")
}
