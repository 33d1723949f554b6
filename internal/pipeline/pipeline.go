// Package pipeline orchestrates one question's journey through planning,
// safety review, sandboxed execution, and data reduction. The loop is a
// small state machine with a hard attempt ceiling: execution failures feed
// the error back into the next planning call, and when everything fails the
// pipeline still terminates with the filtered, untransformed records rather
// than propagating a hard failure.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"datachat/internal/config"
	"datachat/internal/dataset"
	"datachat/internal/events"
	"datachat/internal/logging"
	"datachat/internal/planner"
	"datachat/internal/reduce"
	"datachat/internal/safety"
	"datachat/internal/sandbox"
)

// State names one position in the retry loop.
type State int

const (
	StatePlanning State = iota
	StateValidating
	StateExecuting
	StateRetrying
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateValidating:
		return "validating"
	case StateExecuting:
		return "executing"
	case StateRetrying:
		return "retrying"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// PlanGenerator produces a query plan for one attempt.
type PlanGenerator interface {
	Generate(ctx context.Context, req planner.Request) (*planner.QueryPlan, error)
}

// CodeValidator reviews generated code before execution.
type CodeValidator interface {
	Review(ctx context.Context, code, description string) (*safety.Verdict, error)
}

// CodeExecutor runs approved code against a record set.
type CodeExecutor interface {
	Execute(ctx context.Context, code string, records []dataset.Record) *sandbox.Result
}

// Attempt is one full plan/validate/execute cycle. Attempts are appended to
// the run's log and never mutated afterwards.
type Attempt struct {
	Index   int
	Plan    *planner.QueryPlan
	Verdict *safety.Verdict
	Result  *sandbox.Result
}

// Summary is the audit record handed downstream with the answer.
type Summary struct {
	RunID          string           `json:"run_id"`
	Attempts       int              `json:"attempts"`
	FiltersApplied []planner.Filter `json:"filters_applied,omitempty"`
	RecordsBefore  int              `json:"records_before"`
	RecordsAfter   int              `json:"records_after"`
	CodeRejected   bool             `json:"code_rejected,omitempty"`
	ExecutionError string           `json:"execution_error,omitempty"`
	Sampled        bool             `json:"sampled,omitempty"`
}

// Outcome is the pipeline's final product for one question: a reduced
// record set or a scalar, an explanation, and the audit summary. It feeds
// answer synthesis, which only needs these three things.
type Outcome struct {
	RunID       string
	Records     []dataset.Record
	Scalar      any
	IsScalar    bool
	Explanation string
	Summary     Summary
	AttemptLog  []Attempt
}

// Orchestrator owns the retry loop. One instance serves many questions;
// all per-question state lives in Run's locals and is discarded on return.
type Orchestrator struct {
	generator PlanGenerator
	validator CodeValidator
	executor  CodeExecutor
	pipeCfg   config.PipelineConfig
	reduceCfg config.ReduceConfig
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(g PlanGenerator, v CodeValidator, x CodeExecutor, pipeCfg config.PipelineConfig, reduceCfg config.ReduceConfig) *Orchestrator {
	return &Orchestrator{
		generator: g,
		validator: v,
		executor:  x,
		pipeCfg:   pipeCfg,
		reduceCfg: reduceCfg,
	}
}

// Ask runs the full pipeline for one question. Planning failures are fatal;
// everything downstream degrades to the filtered record set instead of
// failing. Phase events go to sink in emission order.
func (o *Orchestrator) Ask(ctx context.Context, question string, history []planner.Turn, ds *dataset.Dataset, sink events.Sink) (*Outcome, error) {
	runID := uuid.NewString()
	logging.Pipeline("run %s: %q over %s (%d records)", runID, question, ds.Name, len(ds.Records))

	var (
		attempts     []Attempt
		retry        *planner.RetryContext
		lastExecErr  string
		codeRejected bool

		finalPlan   *planner.QueryPlan
		execResult  *sandbox.Result // nil means the filtered set is the result
		lastFilters []planner.Filter
	)

	state := StatePlanning
	transition := func(next State) {
		logging.PipelineDebug("run %s: %s -> %s", runID, state, next)
		state = next
	}

	for attempt := 1; attempt <= o.pipeCfg.MaxAttempts && state != StateDone; attempt++ {
		// Planning.
		sink.Emit(events.Active(events.PhasePlanning, attempt))
		plan, err := o.generator.Generate(ctx, planner.Request{
			Question: question,
			History:  history,
			Dataset:  ds,
			Retry:    retry,
		})
		retry = nil
		if err != nil {
			// Unparsable model output is fatal for the run, not retried.
			return nil, fmt.Errorf("pipeline: attempt %d planning failed: %w", attempt, err)
		}
		sink.Emit(events.Completed(events.PhasePlanning, attempt, planSummary(plan)))

		// Validation, skipped entirely when the plan has no code.
		execPlan := plan
		var verdict *safety.Verdict
		if plan.HasCode() {
			transition(StateValidating)
			sink.Emit(events.Active(events.PhaseValidation, attempt))
			verdict, err = o.validator.Review(ctx, plan.Code, plan.CodeDescription)
			if err != nil {
				// A failed review never approves: strip the code.
				verdict = &safety.Verdict{Approved: false, Reason: fmt.Sprintf("safety review failed: %v", err)}
			}
			if !verdict.Approved {
				codeRejected = true
				execPlan = plan.WithoutCode()
				logging.Pipeline("run %s: code rejected: %s", runID, verdict.Reason)
				sink.Emit(events.Warning(events.PhaseValidation, attempt, verdict))
			}
			sink.Emit(events.Completed(events.PhaseValidation, attempt, verdict))
		} else {
			sink.Emit(events.Completed(events.PhaseValidation, attempt, nil))
		}

		// Execution. Code runs against the already-filtered records.
		transition(StateExecuting)
		filtered := reduce.FilterRecords(ds.Records, execPlan.Filters)
		lastFilters = execPlan.Filters
		sink.Emit(events.Active(events.PhaseExecution, attempt))

		if !execPlan.HasCode() {
			// No code (absent or stripped): the filtered set is the result.
			attempts = append(attempts, Attempt{Index: attempt, Plan: plan, Verdict: verdict})
			finalPlan = execPlan
			sink.Emit(events.Completed(events.PhaseExecution, attempt, map[string]any{
				"records": len(filtered),
			}))
			transition(StateDone)
			continue
		}

		result := o.executor.Execute(ctx, execPlan.Code, filtered)
		attempts = append(attempts, Attempt{Index: attempt, Plan: plan, Verdict: verdict, Result: result})

		if result.Success {
			finalPlan = plan
			execResult = result
			sink.Emit(events.Completed(events.PhaseExecution, attempt, map[string]any{
				"records": len(result.Records),
				"scalar":  result.IsScalar(),
			}))
			transition(StateDone)
			continue
		}

		lastExecErr = result.Err
		sink.Emit(events.Warning(events.PhaseExecution, attempt, map[string]any{
			"error":    result.Err,
			"category": result.Failure.String(),
		}))

		if attempt < o.pipeCfg.MaxAttempts {
			transition(StateRetrying)
			logging.Pipeline("run %s: execution failed (%s), retrying", runID, result.Failure)
			sink.Emit(events.Completed(events.PhaseExecution, attempt, map[string]any{
				"retrying": true,
			}))
			retry = &planner.RetryContext{
				Attempt:        attempt + 1,
				PreviousCode:   execPlan.Code,
				ExecutionError: result.Err,
			}
			transition(StatePlanning)
			continue
		}

		// Ceiling exhausted: terminate with the filtered, untransformed set.
		logging.Pipeline("run %s: attempt ceiling reached, falling back to filtered data", runID)
		finalPlan = plan.WithoutCode()
		sink.Emit(events.Completed(events.PhaseExecution, attempt, map[string]any{
			"records":  len(filtered),
			"fallback": true,
		}))
		transition(StateDone)
	}

	outcome := o.finish(runID, ds, finalPlan, execResult)
	outcome.AttemptLog = attempts
	outcome.Summary.Attempts = len(attempts)
	outcome.Summary.FiltersApplied = lastFilters
	outcome.Summary.ExecutionError = lastExecErr
	outcome.Summary.CodeRejected = codeRejected
	logging.Pipeline("run %s: done after %d attempt(s), %d records out", runID, len(attempts), len(outcome.Records))
	return outcome, nil
}

// finish applies data reduction to whatever result the loop fixed.
func (o *Orchestrator) finish(runID string, ds *dataset.Dataset, plan *planner.QueryPlan, result *sandbox.Result) *Outcome {
	out := &Outcome{
		RunID:       runID,
		Explanation: plan.Explanation,
		Summary:     Summary{RunID: runID, RecordsBefore: len(ds.Records)},
	}

	switch {
	case result != nil && result.IsScalar():
		out.Scalar = result.Scalar
		out.IsScalar = true
		out.Summary.RecordsAfter = 1
	case result != nil:
		// Code already ran on filtered input; reducing its output must not
		// re-filter records whose shape the code may have changed.
		reduced := reduce.Apply(result.Records, plan.WithoutFilters(), o.reduceCfg)
		out.Records = reduced.Records
		out.Summary.Sampled = reduced.Sampled
		out.Summary.RecordsAfter = len(reduced.Records)
	default:
		reduced := reduce.Apply(ds.Records, plan, o.reduceCfg)
		out.Records = reduced.Records
		out.Summary.Sampled = reduced.Sampled
		out.Summary.RecordsAfter = len(reduced.Records)
	}

	if out.Summary.Sampled {
		out.Explanation += fmt.Sprintf(" Results were sampled down to %d records.", len(out.Records))
	}
	return out
}

func planSummary(p *planner.QueryPlan) map[string]any {
	return map[string]any{
		"filters":  len(p.Filters),
		"fields":   len(p.Fields),
		"limit":    p.Limit,
		"has_code": p.HasCode(),
	}
}
