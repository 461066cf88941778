/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package servo

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
	"github.com/eclesh/welford"
)

// VarianceFilter feeds recent offsetFromMaster samples into a running-
// mean/variance accumulator and exposes the scaled-log-variance the
// engine advertises as Parent-DS's optional
// observedParentOffsetScaledLogVariance attribute while slaved to a
// master. welford.Stats keeps the running statistics without storing
// every sample,
// and an optional govaluate expression lets an operator override the
// default "1.4427 * ln(variance)" formula from the config file without a
// rebuild.
type VarianceFilter struct {
	stats *welford.Stats
	expr  *govaluate.EvaluableExpression
}

// DefaultScaledLogVarianceFormula matches the IEEE 1588 definition of
// offsetScaledLogVariance: log2(variance) scaled by 2^8, expressed in
// govaluate's natural-log terms (log2(x) = ln(x) / ln(2)).
const DefaultScaledLogVarianceFormula = "ln(variance) / ln2"

// NewVarianceFilter builds a filter using formula (or the default if
// formula is empty).
func NewVarianceFilter(formula string) (*VarianceFilter, error) {
	if formula == "" {
		formula = DefaultScaledLogVarianceFormula
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(formula, map[string]govaluate.ExpressionFunction{
		"ln": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("ln takes one argument, got %d", len(args))
			}
			x, ok := args[0].(float64)
			if !ok {
				return nil, fmt.Errorf("ln argument must be a number, got %T", args[0])
			}
			return math.Log(x), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("parsing variance formula %q: %w", formula, err)
	}
	return &VarianceFilter{stats: welford.New(), expr: expr}, nil
}

// Add records one offset sample (nanoseconds)
func (f *VarianceFilter) Add(offsetNs float64) {
	f.stats.Add(offsetNs)
}

// OffsetScaledLogVariance evaluates the configured formula against the
// current running variance and clamps the IEEE 1588 16-bit result.
func (f *VarianceFilter) OffsetScaledLogVariance() (uint16, error) {
	variance := f.stats.Variance()
	if variance <= 0 {
		return 0, nil
	}
	result, err := f.expr.Evaluate(map[string]interface{}{
		"variance": variance,
		"ln2":      math.Ln2,
	})
	if err != nil {
		return 0, fmt.Errorf("evaluating variance formula: %w", err)
	}
	v, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("variance formula must evaluate to a number, got %T", result)
	}
	scaled := v*256 + 0x8000
	if scaled < 0 {
		scaled = 0
	}
	if scaled > 0xFFFF {
		scaled = 0xFFFF
	}
	return uint16(scaled), nil
}

// Reset clears the running statistics
func (f *VarianceFilter) Reset() {
	f.stats = welford.New()
}
