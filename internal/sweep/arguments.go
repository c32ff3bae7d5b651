// Package sweep runs an external placer across every combination of
// configured arguments and circuits and records the extracted metrics.
package sweep

import (
	"fmt"
	"strings"
)

// MaxArgumentSets bounds the size of a generated sweep.
const MaxArgumentSets = 100000

// ArgumentSet is one combination of argument values, flattened to
// alternating name and value tokens: [n1, v1, n2, v2, ...].
type ArgumentSet []string

// Values returns the value tokens of the set in name order.
func (a ArgumentSet) Values() []string {
	values := make([]string, 0, len(a)/2)
	for i := 1; i < len(a); i += 2 {
		values = append(values, a[i])
	}
	return values
}

// String joins the tokens with single spaces.
func (a ArgumentSet) String() string {
	return strings.Join(a, " ")
}

// CountArgumentSets returns the product of the candidate list lengths.
// Any empty list yields zero. No names yields one empty set.
func CountArgumentSets(values [][]string) (int, error) {
	total := int64(1)
	for _, vals := range values {
		total *= int64(len(vals))
		if total == 0 {
			return 0, nil
		}
		if total > MaxArgumentSets {
			return 0, fmt.Errorf("argument combinations would exceed safe limit of %d", MaxArgumentSets)
		}
	}
	return int(total), nil
}

// ArgumentSets computes the Cartesian product of the candidate values.
// The last name varies fastest, so the first set takes the first value of
// every name and sets are ordered as nested loops in declared order.
func ArgumentSets(names []string, values [][]string) ([]ArgumentSet, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("got %d argument names but %d value lists", len(names), len(values))
	}

	total, err := CountArgumentSets(values)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	sets := make([]ArgumentSet, total)
	for i := range sets {
		sets[i] = make(ArgumentSet, 2*len(names))
	}

	repeat := 1
	for dim := len(names) - 1; dim >= 0; dim-- {
		vals := values[dim]
		cycle := len(vals)
		for i := 0; i < total; i++ {
			sets[i][2*dim] = names[dim]
			sets[i][2*dim+1] = vals[(i/repeat)%cycle]
		}
		repeat *= cycle
	}

	return sets, nil
}
