package analysis

// Threshold is the score a segment must strictly exceed to be positive.
const Threshold = 0.5

// SecondsPerSegment is the x-axis spacing between consecutive segments.
const SecondsPerSegment = 2

// Result is the plottable form of a score sequence.
type Result struct {
	X        []int     `json:"x"`
	Y        []float64 `json:"y"`
	Positive []int     `json:"positive"`
}

// Aggregate returns x[i] = i*2, y[i] = scores[i] and the indices whose
// score is strictly greater than Threshold.
func Aggregate(scores []float64) Result {
	return AggregateWithThreshold(scores, Threshold)
}

// AggregateWithThreshold is Aggregate with a caller-chosen cutoff.
// The input is not modified; all three series are non-nil.
func AggregateWithThreshold(scores []float64, threshold float64) Result {
	res := Result{
		X:        make([]int, len(scores)),
		Y:        make([]float64, len(scores)),
		Positive: []int{},
	}
	for i, s := range scores {
		res.X[i] = i * SecondsPerSegment
		res.Y[i] = s
		if s > threshold {
			res.Positive = append(res.Positive, i)
		}
	}
	return res
}
