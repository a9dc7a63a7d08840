// Package plan holds the static subscription plan catalog.
package plan

import "fmt"

// Plan is a subscription tier. The catalog maps each tier to the number of
// document simplifications granted per billing period.
type Plan string

const (
	Free  Plan = "FREE"
	Basic Plan = "BASIC"
	Pro   Plan = "PRO"
)

var allowances = map[Plan]int{
	Free:  1,
	Basic: 10,
	Pro:   100,
}

// Allowance returns the number of uses the plan grants per billing period.
// Unknown plans get the free allowance.
func Allowance(p Plan) int {
	if n, ok := allowances[p]; ok {
		return n
	}
	return allowances[Free]
}

// Parse validates a plan name from untrusted input.
func Parse(s string) (Plan, error) {
	p := Plan(s)
	if _, ok := allowances[p]; !ok {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}

// Paid reports whether the plan requires payment before it takes effect.
func (p Plan) Paid() bool {
	return p == Basic || p == Pro
}
