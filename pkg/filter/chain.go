// Package filter runs a request through an ordered list of scripts.
package filter

import (
	"context"
	"fmt"
	"time"

	"snare/pkg/engine"
)

// Resolver looks up a script unit by name. *registry.Registry satisfies it.
type Resolver interface {
	Get(name string) (*engine.Script, error)
}

// Step is one script invocation in a chain.
type Step struct {
	Script string `json:"script"`
	Args   string `json:"args,omitempty"`
}

// StepResult records what one step did.
type StepResult struct {
	Script   string        `json:"script"`
	Skipped  bool          `json:"skipped,omitempty"`
	Result   interface{}   `json:"result,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Result is the outcome of a whole chain.
type Result struct {
	Request string       `json:"request"`
	Steps   []StepResult `json:"steps"`
}

// StepError reports the failing step of a chain.
type StepError struct {
	Index  int
	Script string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Script, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Chain applies steps to a request in order.
type Chain struct {
	resolver Resolver
	// lockWait bounds how long each step waits for its script. Zero waits
	// as long as the caller's context allows.
	lockWait time.Duration
}

// New returns a Chain resolving scripts through resolver. lockWait applies to
// every step separately.
func New(resolver Resolver, lockWait time.Duration) *Chain {
	return &Chain{resolver: resolver, lockWait: lockWait}
}

// Run executes steps over request. A step whose script declares a match
// predicate runs only when the predicate holds for the current request. A
// string result replaces the request seen by later steps. Run stops at the
// first failing step and returns the partial result with a *StepError.
func (c *Chain) Run(ctx context.Context, request string, steps []Step) (*Result, error) {
	res := &Result{Request: request, Steps: make([]StepResult, 0, len(steps))}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return res, &StepError{Index: i, Script: step.Script, Err: &engine.ScriptError{
				Kind:    engine.KindLock,
				Script:  step.Script,
				Message: "chain interrupted: " + err.Error(),
				Err:     err,
			}}
		}

		s, err := c.resolver.Get(step.Script)
		if err != nil {
			return res, &StepError{Index: i, Script: step.Script, Err: err}
		}

		ok, err := s.Matches(engine.NewMatchEnv(step.Script, res.Request))
		if err != nil {
			return res, &StepError{Index: i, Script: step.Script, Err: err}
		}
		if !ok {
			res.Steps = append(res.Steps, StepResult{Script: step.Script, Skipped: true})
			continue
		}

		start := time.Now()
		stepCtx, cancel := c.waitContext(ctx)
		out, err := s.Execute(stepCtx, res.Request, step.Args)
		cancel()
		if err != nil {
			return res, &StepError{Index: i, Script: step.Script, Err: err}
		}

		res.Steps = append(res.Steps, StepResult{Script: step.Script, Result: out, Duration: time.Since(start)})
		if next, ok := out.(string); ok {
			res.Request = next
		}
	}

	return res, nil
}

// waitContext bounds one step's lock wait. The script call itself is never
// interrupted, so the deadline only matters while waiting.
func (c *Chain) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.lockWait <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.lockWait)
}
