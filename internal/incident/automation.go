package incident

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/zulandar/signalbox/internal/metrics"
)

const (
	// DefaultAutomationTimeout bounds one script run.
	DefaultAutomationTimeout = 180 * time.Second
	// DefaultAutomationCooldown is the minimum gap between accepted runs.
	DefaultAutomationCooldown = 90 * time.Second

	outputTailBytes = 2000
)

// CommandRunner executes the automation command and returns its combined
// output.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as subprocesses in their own process group so a
// timeout kills the whole tree (xvfb-run plus node plus the browser).
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Automation launches the browser call-automation script for a declared P0.
// Runs are fire-and-forget, cooldown-guarded and bounded by a worker pool.
type Automation struct {
	script   string
	cooldown time.Duration
	timeout  time.Duration
	runner   CommandRunner
	sem      *semaphore.Weighted
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	wg      sync.WaitGroup
}

// AutomationOpts holds parameters for creating an Automation.
type AutomationOpts struct {
	ScriptPath string
	Cooldown   time.Duration // defaults to DefaultAutomationCooldown
	Timeout    time.Duration // defaults to DefaultAutomationTimeout
	Workers    int           // concurrent runs; defaults to 1
	Runner     CommandRunner // defaults to ExecRunner
	Logger     zerolog.Logger
	Now        func() time.Time
}

// NewAutomation creates an Automation.
func NewAutomation(opts AutomationOpts) (*Automation, error) {
	if opts.ScriptPath == "" {
		return nil, fmt.Errorf("incident: automation: script path is required")
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultAutomationCooldown
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAutomationTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Automation{
		script:   opts.ScriptPath,
		cooldown: opts.Cooldown,
		timeout:  opts.Timeout,
		runner:   opts.Runner,
		sem:      semaphore.NewWeighted(int64(opts.Workers)),
		logger:   opts.Logger.With().Str("component", "automation").Logger(),
		now:      opts.Now,
	}, nil
}

// Trigger schedules a run unless one was accepted within the cooldown window
// or the pool is saturated. It never blocks and reports whether a run was
// scheduled. Only an accepted run starts a new cooldown window.
func (a *Automation) Trigger() bool {
	now := a.now()
	a.mu.Lock()
	if !a.lastRun.IsZero() && now.Sub(a.lastRun) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info().Dur("cooldown", a.cooldown).Msg("automation skipped (cooldown)")
		metrics.AutomationRuns.WithLabelValues("cooldown").Inc()
		return false
	}
	if !a.sem.TryAcquire(1) {
		a.mu.Unlock()
		a.logger.Warn().Msg("automation skipped (pool saturated)")
		metrics.AutomationRuns.WithLabelValues("rejected").Inc()
		return false
	}
	a.lastRun = now
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error().Interface("panic", r).Msg("automation panicked")
				metrics.AutomationRuns.WithLabelValues("failed").Inc()
			}
		}()
		a.run()
	}()
	return true
}

// Wait blocks until all scheduled runs have finished.
func (a *Automation) Wait() {
	a.wg.Wait()
}

func (a *Automation) run() {
	if _, err := os.Stat(a.script); err != nil {
		a.logger.Error().Str("script", a.script).Msg("automation script not found")
		metrics.AutomationRuns.WithLabelValues("failed").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	args := []string{"-a", "node", a.script}
	a.logger.Info().Str("cmd", "xvfb-run").Strs("args", args).Msg("starting automation")

	out, err := a.runner.Run(ctx, filepath.Dir(a.script), "xvfb-run", args...)
	tail := outputTail(out)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		a.logger.Error().Dur("timeout", a.timeout).Str("output_tail", tail).Msg("automation timed out")
		metrics.AutomationRuns.WithLabelValues("timeout").Inc()
	case err != nil:
		a.logger.Error().Err(err).Str("output_tail", tail).Msg("automation failed")
		metrics.AutomationRuns.WithLabelValues("failed").Inc()
	default:
		a.logger.Info().Str("output_tail", tail).Msg("automation finished")
		metrics.AutomationRuns.WithLabelValues("ok").Inc()
	}
}

// outputTail keeps the last outputTailBytes bytes of out.
func outputTail(out []byte) string {
	if len(out) > outputTailBytes {
		out = out[len(out)-outputTailBytes:]
	}
	return string(out)
}
