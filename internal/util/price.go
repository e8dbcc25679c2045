// Package util provides small price helpers shared by the feed and the
// mock broker.
package util

import "math"

// Mid returns the midpoint of a bid/offer pair.
func Mid(bid, offer float64) float64 {
	return (bid + offer) / 2
}

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.1, 6.84 becomes 6.8 and 6.87 becomes 6.9.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}
