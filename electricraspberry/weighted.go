package electricraspberry

type weightedOption[T any] struct {
	Value  T
	Weight float64
}

// weightedChoice draws one option with probability proportional to its
// weight, using a single uniform draw against the cumulative weights.
// Non-positive weights are never chosen unless every weight is
// non-positive, in which case the first option is returned.
// ok is false only when options is empty.
func weightedChoice[T any](r RandomSource, options []weightedOption[T]) (choice T, ok bool) {
	if len(options) == 0 {
		return choice, false
	}

	cumulative := make([]float64, len(options))
	total := 0.0
	for i, o := range options {
		if o.Weight > 0 {
			total += o.Weight
		}
		cumulative[i] = total
	}
	if total <= 0 {
		return options[0].Value, true
	}

	draw := r.Float64() * total
	for i, c := range cumulative {
		if draw < c && options[i].Weight > 0 {
			return options[i].Value, true
		}
	}

	// draw == total can only come from a misbehaving source
	for i := len(options) - 1; i >= 0; i-- {
		if options[i].Weight > 0 {
			return options[i].Value, true
		}
	}
	return options[0].Value, true
}
