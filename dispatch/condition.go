package dispatch

import (
	"strings"
)

// Condition is one named check of a capability predicate.
type Condition struct {
	Description string
	Passed      bool
}

func (c Condition) String() string {
	if c.Passed {
		return c.Description + ": pass"
	}
	return c.Description + ": fail"
}

// Chain is an ordered AND of conditions for one scope, e.g. "KMeans.fit".
// Building a chain has no side effects; every condition is recorded even
// after one has failed so diagnostics list all reasons.
type Chain struct {
	scope      string
	conditions []Condition
}

// NewChain starts an empty chain. An empty chain is supported.
func NewChain(scope string) *Chain {
	return &Chain{scope: scope}
}

// And appends a condition.
func (c *Chain) And(passed bool, description string) *Chain {
	c.conditions = append(c.conditions, Condition{Description: description, Passed: passed})
	return c
}

// AndAll appends conditions in order.
func (c *Chain) AndAll(conds ...Condition) *Chain {
	c.conditions = append(c.conditions, conds...)
	return c
}

// Or appends a single condition that passes when any of conds passes.
// Its description joins the alternatives with " or ".
func (c *Chain) Or(conds ...Condition) *Chain {
	if len(conds) == 0 {
		return c
	}
	descs := make([]string, len(conds))
	passed := false
	for i, cond := range conds {
		descs[i] = cond.Description
		passed = passed || cond.Passed
	}
	return c.And(passed, strings.Join(descs, " or "))
}

// Merge appends the conditions of other.
func (c *Chain) Merge(other *Chain) *Chain {
	if other != nil {
		c.conditions = append(c.conditions, other.conditions...)
	}
	return c
}

// Scope names what the chain was built for.
func (c *Chain) Scope() string { return c.scope }

// Supported reports whether every condition passed.
func (c *Chain) Supported() bool {
	for _, cond := range c.conditions {
		if !cond.Passed {
			return false
		}
	}
	return true
}

// Conditions returns a copy of the conditions in evaluation order.
func (c *Chain) Conditions() []Condition {
	out := make([]Condition, len(c.conditions))
	copy(out, c.conditions)
	return out
}

// Failed returns the conditions that did not pass.
func (c *Chain) Failed() []Condition {
	var out []Condition
	for _, cond := range c.conditions {
		if !cond.Passed {
			out = append(out, cond)
		}
	}
	return out
}

// String renders one "<description>: pass|fail" line per condition.
func (c *Chain) String() string {
	lines := make([]string, len(c.conditions))
	for i, cond := range c.conditions {
		lines[i] = cond.String()
	}
	return strings.Join(lines, "\n")
}
