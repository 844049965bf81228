package rank

// Segment boundaries for tapered view weighting: the most recent views carry
// most of a team's weight mass.
const (
	segmentOneEnd = 10
	segmentTwoEnd = 25
	maxViews      = 30

	segmentOneMass   = 0.60
	segmentTwoMass   = 0.30
	segmentThreeMass = 0.10
)

// TaperedWeights returns the per-view weight vector for a team with n views
// ordered most recent first. At a full history, views 1-10 share 60% of the
// mass, 11-25 share 30% and 26-30 share 10%. Each view carries its segment's
// per-slot mass and the vector is renormalized, so shorter histories stay
// monotone non-increasing and always sum to 1 for n >= 1. Under 10 views this
// degenerates to uniform weights.
func TaperedWeights(n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n > maxViews {
		n = maxViews
	}

	weights := make([]float64, n)
	total := 0.0

	fill := func(from, to int, mass float64) {
		per := mass / float64(to-from)
		if to > n {
			to = n
		}
		for i := from; i < to; i++ {
			weights[i] = per
			total += per
		}
	}

	fill(0, segmentOneEnd, segmentOneMass)
	if n > segmentOneEnd {
		fill(segmentOneEnd, segmentTwoEnd, segmentTwoMass)
	}
	if n > segmentTwoEnd {
		fill(segmentTwoEnd, maxViews, segmentThreeMass)
	}

	for i := range weights {
		weights[i] /= total
	}
	return weights
}
