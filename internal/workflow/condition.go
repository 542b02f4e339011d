package workflow

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// conditionEnv exposes the lead fields a condition expression may read.
func conditionEnv(l models.Lead) map[string]any {
	tags := l.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"first_name":  l.FirstName,
		"last_name":   l.LastName,
		"full_name":   l.FullName(),
		"phone":       l.PhoneNumber,
		"email":       l.Email,
		"company":     l.Company,
		"city":        l.City,
		"state":       l.State,
		"status":      l.Status,
		"tags":        tags,
		"do_not_call": l.DoNotCall,
	}
}

// conditionEvaluator compiles boolean expressions once and caches them.
type conditionEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{programs: make(map[string]*vm.Program)}
}

// compileCondition type-checks expression against the lead environment.
func compileCondition(expression string) (*vm.Program, error) {
	program, err := expr.Compile(expression, expr.Env(conditionEnv(models.Lead{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	return program, nil
}

func (c *conditionEvaluator) program(expression string) (*vm.Program, error) {
	c.mu.RLock()
	if p, ok := c.programs[expression]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	p, err := compileCondition(expression)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.programs[expression] = p
	c.mu.Unlock()
	return p, nil
}

// Evaluate runs expression against lead.
func (c *conditionEvaluator) Evaluate(expression string, lead models.Lead) (bool, error) {
	p, err := c.program(expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(p, conditionEnv(lead))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", expression, out)
	}
	return result, nil
}
