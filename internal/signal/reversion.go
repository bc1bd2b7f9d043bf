package signal

import "math"

// Reversion holds the outcome of the AR(1) mean-reversion timing estimate.
// When the window is too short or the fitted AR(1) coefficient is out of
// range, Ok is false and HalfLifeS and TExitS are both zero.
type Reversion struct {
	HalfLifeS float64
	TExitS    float64
	Ok        bool
}

// EstimateReversion fits an AR(1) coefficient phi to the buffered spread
// window via OLS-through-the-means, then derives a half-life and an
// estimated time to cross the exit threshold from the current z-score.
//
// window is the rolling spread buffer (oldest first), currentZ is the
// z-score just produced by that same update, exitZ is the configured exit
// threshold, and tickSeconds is the poll period in seconds.
func EstimateReversion(window []float64, currentZ, exitZ, tickSeconds float64) Reversion {
	n := len(window)
	if n < 10 {
		return Reversion{}
	}

	xs := window[:n-1]
	ys := window[1:]

	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(len(xs))
	meanY := sumY / float64(len(ys))

	var num, den float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		num += dx * dy
		den += dx * dx
	}
	if den == 0 {
		return Reversion{}
	}
	phi := num / den
	if phi <= 0 || phi >= 0.9999 {
		return Reversion{}
	}

	halfLifeSamples := math.Log(2) / -math.Log(phi)
	halfLifeS := halfLifeSamples * tickSeconds

	var tExitS float64
	if exitZ <= 0 || math.Abs(currentZ) <= exitZ {
		tExitS = 0
	} else {
		tExitS = math.Log(math.Abs(currentZ)/exitZ) * halfLifeS / math.Log(2)
	}

	return Reversion{HalfLifeS: halfLifeS, TExitS: tExitS, Ok: true}
}
