// Package sweep expands sweep step definitions into concrete setpoint plans.
// Explicit value lists and linear spans are computed directly; expression
// steps run through a JavaScript runtime (goja) so submitters can generate
// point lists (log spacing, concatenated segments) without client-side
// tooling.
package sweep

import (
	"fmt"
	"math"

	"github.com/dop251/goja"

	"github.com/me/mem/pkg/model"
)

// linspaceJS is injected into every expression VM. It mirrors the helper
// submitters already know from numpy.
const linspaceJS = `
function linspace(start, stop, count) {
	if (count < 1) { throw new Error("linspace: count must be >= 1"); }
	if (count === 1) { return [start]; }
	var out = [];
	var step = (stop - start) / (count - 1);
	for (var i = 0; i < count; i++) { out.push(start + step * i); }
	return out;
}
`

// Points expands one sweep step into its ordered setpoint list.
func Points(step model.SweepStep) ([]float64, error) {
	if err := step.Validate(); err != nil {
		return nil, err
	}

	switch {
	case len(step.Values) > 0:
		out := make([]float64, len(step.Values))
		copy(out, step.Values)
		return out, nil

	case step.Expr != "":
		return evalExpr(step.Expr)

	default:
		return span(*step.Start, *step.Stop, step.Count), nil
	}
}

// span computes count points linearly spaced from start to stop, both ends
// inclusive.
func span(start, stop float64, count int) []float64 {
	if count == 1 {
		return []float64{start}
	}
	out := make([]float64, count)
	step := (stop - start) / float64(count-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	// Pin the endpoint; accumulated float error must not overshoot stop.
	out[count-1] = stop
	return out
}

// evalExpr runs a JavaScript expression and coerces its result to a float
// slice. A fresh VM per call keeps expressions isolated from each other.
func evalExpr(expr string) ([]float64, error) {
	vm := goja.New()
	if _, err := vm.RunString(linspaceJS); err != nil {
		return nil, fmt.Errorf("sweep expression library: %w", err)
	}

	val, err := vm.RunString(expr)
	if err != nil {
		return nil, fmt.Errorf("sweep expression error: %w", err)
	}
	if val == goja.Undefined() || val == goja.Null() {
		return nil, fmt.Errorf("sweep expression %q returned no value", expr)
	}

	exported := val.Export()
	items, ok := exported.([]any)
	if !ok {
		// goja exports homogeneous numeric arrays as []float64 or []int64.
		switch v := exported.(type) {
		case []float64:
			out := make([]float64, len(v))
			copy(out, v)
			return requireFinite(out, expr)
		case []int64:
			out := make([]float64, len(v))
			for i, n := range v {
				out[i] = float64(n)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("sweep expression %q returned %T, want a numeric array", expr, exported)
		}
	}

	out := make([]float64, len(items))
	for i, item := range items {
		switch n := item.(type) {
		case float64:
			out[i] = n
		case int64:
			out[i] = float64(n)
		case int:
			out[i] = float64(n)
		default:
			return nil, fmt.Errorf("sweep expression %q: element %d is %T, want number", expr, i, item)
		}
	}
	return requireFinite(out, expr)
}

func requireFinite(points []float64, expr string) ([]float64, error) {
	for i, p := range points {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("sweep expression %q: element %d is not finite", expr, i)
		}
	}
	return points, nil
}

// Setpoint is one instrument parameter value within a plan row.
type Setpoint struct {
	Instrument string
	Parameter  string
	Value      float64
}

// Plan expands a multi-dimensional sweep into the full ordered sequence of
// setpoint rows. Steps are ordered outermost first, so the last step is the
// fastest-varying axis. An empty sweep yields a single empty row: the
// measurement still takes exactly one data point.
func Plan(steps []model.SweepStep) ([][]Setpoint, error) {
	if len(steps) == 0 {
		return [][]Setpoint{{}}, nil
	}

	axes := make([][]float64, len(steps))
	total := 1
	for i, step := range steps {
		pts, err := Points(step)
		if err != nil {
			return nil, fmt.Errorf("sweep step %d: %w", i, err)
		}
		if len(pts) == 0 {
			return nil, fmt.Errorf("sweep step %d: no points", i)
		}
		axes[i] = pts
		total *= len(pts)
	}

	rows := make([][]Setpoint, 0, total)
	idx := make([]int, len(steps))
	for {
		row := make([]Setpoint, len(steps))
		for d, step := range steps {
			row[d] = Setpoint{
				Instrument: step.Instrument,
				Parameter:  step.Parameter,
				Value:      axes[d][idx[d]],
			}
		}
		rows = append(rows, row)

		// Odometer increment, innermost axis first.
		d := len(steps) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < len(axes[d]) {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return rows, nil
		}
	}
}
