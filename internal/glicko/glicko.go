// Package glicko implements the Glicko-2 rating update used by the rating
// engine.
//
// Naming follows Professor Mark E. Glickman's paper
// (https://www.glicko.net/glicko/glicko2.pdf):
//   - mu: rating on the Glicko-2 scale
//   - phi: rating deviation on the Glicko-2 scale
//   - sigma: rating volatility
//   - g: weighting that discounts high-deviation opponents
//   - E: expected score against a given opponent
package glicko

import "math"

const (
	tau     = 0.5
	scale   = 173.7178
	base    = 1500.0
	epsilon = 0.000001
)

// Evaluation is a player's strength estimate.
type Evaluation struct {
	Rating     float64
	Deviation  float64
	Volatility float64
}

// Outcome is one rated contest: the opponent's rating and deviation, and the
// score (1 win, 0 loss, 0.5 draw).
type Outcome struct {
	OpponentRating    float64
	OpponentDeviation float64
	Score             float64
}

// Update returns the evaluation after folding every outcome of a rating
// period into curr. With no outcomes it applies the did-not-compete step.
func Update(curr Evaluation, outcomes []Outcome) Evaluation {
	if len(outcomes) == 0 {
		return DidNotCompete(curr)
	}

	// Step 2: convert to the Glicko-2 scale.
	mu := toMu(curr.Rating)
	phi := toPhi(curr.Deviation)
	sigma := curr.Volatility

	// Steps 3 and 4: estimated variance and improvement.
	v := 0.0
	improvement := 0.0
	for _, o := range outcomes {
		oMu := toMu(o.OpponentRating)
		oPhi := toPhi(o.OpponentDeviation)
		g := weight(oPhi)
		e := expected(mu, oMu, g)
		v += g * g * e * (1 - e)
		improvement += g * (o.Score - e)
	}
	v = 1 / v
	delta := v * improvement

	// Step 5: new volatility.
	sigmaNew := newVolatility(sigma, delta, phi, v)

	// Steps 6 and 7: new deviation and rating.
	phiStar := math.Sqrt(phi*phi + sigmaNew*sigmaNew)
	phiNew := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muNew := mu + phiNew*phiNew*improvement

	// Step 8: back to the Glicko scale.
	return Evaluation{
		Rating:     muNew*scale + base,
		Deviation:  phiNew * scale,
		Volatility: sigmaNew,
	}
}

// DidNotCompete widens the deviation for a player with no rated contests in a
// period. Rating and volatility are unchanged.
func DidNotCompete(curr Evaluation) Evaluation {
	phi := toPhi(curr.Deviation)
	phiStar := math.Sqrt(phi*phi + curr.Volatility*curr.Volatility)
	curr.Deviation = phiStar * scale
	return curr
}

func toMu(rating float64) float64  { return (rating - base) / scale }
func toPhi(deviation float64) float64 { return deviation / scale }

func weight(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, oMu, g float64) float64 {
	return 1 / (1 + math.Exp(-g*(mu-oMu)))
}

// newVolatility is the iterative step 5 of the paper ("Illinois" variant of
// regula falsi).
func newVolatility(sigma, delta, phi, v float64) float64 {
	a := math.Log(sigma * sigma)

	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2 * (phi*phi + v + ex) * (phi*phi + v + ex)
		return num/den - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA := f(A)
	fB := f(B)
	for math.Abs(B-A) > epsilon {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB <= 0 {
			A = B
			fA = fB
		} else {
			fA /= 2
		}
		B = C
		fB = fC
	}
	return math.Exp(A / 2)
}
