package stub

import (
	"context"
	"sync"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/safety"
)

// Checker implements safety.Checker for testing. Unknown tokens pass.
type Checker struct {
	mu       sync.Mutex
	verdicts map[string]domain.SafetyVerdict
	errs     map[string]error
	calls    int
}

// NewChecker creates a new stub checker.
func NewChecker() *Checker {
	return &Checker{
		verdicts: make(map[string]domain.SafetyVerdict),
		errs:     make(map[string]error),
	}
}

var _ safety.Checker = (*Checker)(nil)

// Flag makes a token fail with the given flags.
func (c *Checker) Flag(chain domain.Chain, address string, flags ...domain.SafetyFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts[string(chain)+":"+address] = domain.SafetyVerdict{Passed: len(flags) == 0, Flags: flags}
}

// SetErr makes Check fail for a token.
func (c *Checker) SetErr(chain domain.Chain, address string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[string(chain)+":"+address] = err
}

// Calls returns the number of Check calls.
func (c *Checker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Check returns the configured verdict.
func (c *Checker) Check(ctx context.Context, chain domain.Chain, address string) (domain.SafetyVerdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++

	key := string(chain) + ":" + address
	if err, ok := c.errs[key]; ok {
		return domain.SafetyVerdict{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.SafetyVerdict{}, err
	}
	if v, ok := c.verdicts[key]; ok {
		return v, nil
	}
	return domain.SafetyVerdict{Passed: true}, nil
}
