// Package sandbox executes model-generated Go code inside a yaegi
// interpreter with a restricted capability set and a hard wall-clock bound.
// Interpretation instead of compilation keeps execution in-process, free of
// toolchain dependencies, and under the interpreter's symbol control: code
// can only touch the packages explicitly loaded into it.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"

	"datachat/internal/config"
	"datachat/internal/dataset"
	"datachat/internal/logging"
)

// FailureKind categorizes execution failures so the next planning attempt
// receives a precise diagnostic.
type FailureKind int

const (
	FailureNone      FailureKind = iota
	FailureForbidden             // disallowed import, unparsable or oversized code
	FailureRuntime               // evaluation error or panic in the code
	FailureTimeout               // wall-clock bound exceeded
	FailureBadShape              // Transform returned an unusable value
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureForbidden:
		return "forbidden"
	case FailureRuntime:
		return "runtime"
	case FailureTimeout:
		return "timeout"
	case FailureBadShape:
		return "bad_shape"
	default:
		return "unknown"
	}
}

// Result is the outcome of one code execution. It is owned by exactly one
// Execute call and never reused across attempts.
type Result struct {
	Success bool
	Records []dataset.Record // set when Transform returned a record set
	Scalar  any              // set when Transform returned a scalar
	Err     string
	Failure FailureKind
}

// IsScalar reports whether the result is a single value rather than records.
func (r *Result) IsScalar() bool {
	return r.Success && r.Records == nil
}

// Executor runs generated code against a record set.
type Executor struct {
	cfg config.SandboxConfig
}

// NewExecutor creates a sandboxed executor.
func NewExecutor(cfg config.SandboxConfig) *Executor {
	return &Executor{cfg: cfg}
}

// Execute interprets code and calls its Transform function with a deep copy
// of records. The copy is the code's entire observable world: no files, no
// network, no environment, no orchestrator state. A non-terminating
// Transform is abandoned at the timeout; its goroutine cannot outlive the
// process but can no longer affect the pipeline.
func (e *Executor) Execute(ctx context.Context, code string, records []dataset.Record) *Result {
	timer := logging.StartTimer(logging.CategorySandbox, "Execute")
	defer timer.Stop()

	if e.cfg.MaxCodeBytes > 0 && len(code) > e.cfg.MaxCodeBytes {
		return failure(FailureForbidden, fmt.Sprintf("code exceeds %d byte limit", e.cfg.MaxCodeBytes))
	}

	full := wrapCode(code)
	if err := screenImports(full); err != nil {
		return failure(FailureForbidden, err.Error())
	}
	logging.SandboxDebug("interpreting %d bytes of generated code", len(full))

	transform, err := e.load(full)
	if err != nil {
		return failure(FailureRuntime, err.Error())
	}

	input := dataset.CloneRecords(records)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout.Std())
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := transform(input)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			logging.Sandbox("execution failed: %v", out.err)
			return failure(FailureRuntime, fmt.Sprintf("code returned an error: %v", out.err))
		}
		return shapeResult(out.value)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logging.Sandbox("execution abandoned after %s", e.cfg.Timeout)
			return failure(FailureTimeout,
				fmt.Sprintf("code did not finish within %s and was abandoned", e.cfg.Timeout))
		}
		// The caller went away; this is not the code's fault and must not
		// be reported to the planner as a timeout.
		logging.Sandbox("execution cancelled: %v", ctx.Err())
		return failure(FailureRuntime, "execution cancelled")
	}
}

// load evaluates the code in a fresh interpreter and extracts Transform.
// Each execution gets its own interpreter; nothing persists between runs.
func (e *Executor) load(code string) (func([]map[string]any) (any, error), error) {
	// Empty Env and discarded streams: interpreted code sees no process
	// environment and cannot write to the host's stdout or stderr.
	i := interp.New(interp.Options{
		Env:    []string{},
		Stdout: io.Discard,
		Stderr: io.Discard,
	})
	if err := i.Use(capabilitySymbols()); err != nil {
		return nil, fmt.Errorf("load capability set: %w", err)
	}

	if _, err := safeEval(i, code); err != nil {
		return nil, fmt.Errorf("code evaluation failed: %w", err)
	}

	v, err := safeEval(i, "main.Transform")
	if err != nil {
		return nil, fmt.Errorf("Transform function not found: %w", err)
	}
	fn, ok := v.Interface().(func([]map[string]any) (any, error))
	if !ok {
		return nil, fmt.Errorf("Transform has the wrong signature, want func(records []map[string]any) (any, error)")
	}
	return fn, nil
}

// safeEval guards interpreter panics; yaegi panics on some malformed input.
func safeEval(i *interp.Interpreter, src string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	return i.Eval(src)
}

// shapeResult maps a Transform return value onto the result contract:
// a record set or a scalar, anything else is a bad-shape failure.
func shapeResult(v any) *Result {
	switch t := v.(type) {
	case []map[string]any:
		if t == nil {
			// A filter that matched nothing returns a nil accumulator;
			// that is an empty record set, not a scalar.
			t = []map[string]any{}
		}
		return &Result{Success: true, Records: t}
	case []any:
		records := make([]dataset.Record, 0, len(t))
		for _, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return failure(FailureBadShape,
					fmt.Sprintf("code returned a slice containing %T, want map[string]any elements", e))
			}
			records = append(records, m)
		}
		return &Result{Success: true, Records: records}
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Duration:
		return &Result{Success: true, Scalar: t}
	case nil:
		return failure(FailureBadShape, "code returned nil, want a record set or a scalar")
	default:
		return failure(FailureBadShape,
			fmt.Sprintf("code returned %T, want []map[string]any or a scalar", v))
	}
}

// screenImports rejects code importing anything off the allow-list. This
// duplicates the interpreter's structural control on purpose: the error
// message here names the offending import, which makes a far better retry
// diagnostic than a missing-symbol evaluation error. The full source is
// parsed so a syntax error anywhere in the code surfaces here as a parse
// diagnostic rather than later as an opaque evaluation failure.
func screenImports(code string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "transform.go", code, 0)
	if err != nil {
		return fmt.Errorf("code does not parse: %v", err)
	}

	allowed := make(map[string]bool, len(allowedPackages))
	for _, p := range allowedPackages {
		allowed[p] = true
	}

	var forbidden []string
	for _, imp := range file.Imports {
		pkg := strings.Trim(imp.Path.Value, `"`)
		if !allowed[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %s (allowed: %s)",
			strings.Join(forbidden, ", "), strings.Join(allowedPackages, ", "))
	}
	return nil
}

// wrapCode ensures the source has a package clause.
func wrapCode(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

func failure(kind FailureKind, msg string) *Result {
	return &Result{Failure: kind, Err: msg}
}
