// Package logging provides categorized structured logging for datachat.
// Each subsystem logs under its own category; categories can be silenced
// individually so a noisy sandbox run does not drown out pipeline logs.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies the subsystem a log line belongs to.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config loading
	CategoryPipeline Category = "pipeline" // Orchestrator state transitions
	CategoryPlanner  Category = "planner"  // Plan generation, model prompts
	CategorySafety   Category = "safety"   // Code review verdicts
	CategorySandbox  Category = "sandbox"  // Interpreted code execution
	CategoryReduce   Category = "reduce"   // Filtering and projection
	CategoryEvents   Category = "events"   // Phase event stream
	CategoryAPI      Category = "api"      // Model provider calls
	CategoryServer   Category = "server"   // HTTP surface
)

var (
	mu       sync.RWMutex
	root     *zap.SugaredLogger
	disabled map[Category]bool
)

func init() {
	root = zap.NewNop().Sugar()
	disabled = make(map[Category]bool)
}

// Init installs the process-wide logger. Pass verbose=true to enable
// debug-level output.
func Init(verbose bool) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	mu.Lock()
	root = logger.Sugar()
	mu.Unlock()
	return nil
}

// SetLogger replaces the backing logger. Used by tests and by callers
// that build their own zap configuration.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	root = l.Sugar()
	mu.Unlock()
}

// Disable silences a category.
func Disable(c Category) {
	mu.Lock()
	disabled[c] = true
	mu.Unlock()
}

func get(c Category) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if disabled[c] {
		return zap.NewNop().Sugar()
	}
	return root.With("cat", string(c))
}

// Info logs at info level under the given category.
func Info(c Category, format string, args ...interface{}) {
	get(c).Infof(format, args...)
}

// Debug logs at debug level under the given category.
func Debug(c Category, format string, args ...interface{}) {
	get(c).Debugf(format, args...)
}

// Warn logs at warn level under the given category.
func Warn(c Category, format string, args ...interface{}) {
	get(c).Warnf(format, args...)
}

// Error logs at error level under the given category.
func Error(c Category, format string, args ...interface{}) {
	get(c).Errorf(format, args...)
}

// Convenience helpers, one set per chatty subsystem.

func Pipeline(format string, args ...interface{})      { Info(CategoryPipeline, format, args...) }
func PipelineDebug(format string, args ...interface{}) { Debug(CategoryPipeline, format, args...) }
func Planner(format string, args ...interface{})       { Info(CategoryPlanner, format, args...) }
func PlannerDebug(format string, args ...interface{})  { Debug(CategoryPlanner, format, args...) }
func Safety(format string, args ...interface{})        { Info(CategorySafety, format, args...) }
func Sandbox(format string, args ...interface{})       { Info(CategorySandbox, format, args...) }
func SandboxDebug(format string, args ...interface{})  { Debug(CategorySandbox, format, args...) }

// Timer measures the duration of one operation and logs it on Stop.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation within a category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	Debug(t.category, "%s took %s", t.operation, time.Since(t.start))
}

// Sync flushes buffered log entries. Call before process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
