// Package pricing implements the closed-form option pricing model and the
// implied volatility solver built on top of it. Everything in this package
// is a pure computation: no I/O, no clocks, no shared state.
package pricing

import (
	"math"

	"github.com/rowanbeckett/greekwatch/internal/models"
)

// MinTimeToExpiry is the floor, in years, applied to time-to-expiry before
// pricing. Same-day contracts are priced with this epsilon; contracts at or
// past expiry are rejected upstream instead of priced.
const MinTimeToExpiry = 0.001

const daysPerYear = 365.0

// Params carries the market and contract inputs to the pricing model.
// Volatility is passed separately because the solver varies it.
type Params struct {
	Underlying   float64 // spot price of the underlying
	Strike       float64
	TimeToExpiry float64 // years
	RiskFree     float64 // annualized, decimal
	Carry        float64 // annualized dividend / cost-of-carry rate, decimal
	Right        models.OptionRight
}

// Price returns the theoretical option price at the given volatility using
// the Black-Scholes-Merton formula with a continuous carry rate.
//
// Price is monotonically non-decreasing in vol. As vol approaches zero it
// converges to the discounted intrinsic value, and at TimeToExpiry <= 0 it
// degenerates to plain intrinsic value. Both limits matter to the solver's
// bracketing.
func Price(p Params, vol float64) float64 {
	s, k, t := p.Underlying, p.Strike, p.TimeToExpiry

	if t <= 0 {
		return intrinsic(p)
	}
	if s <= 0 || k <= 0 || vol <= 0 {
		return discountedIntrinsic(p)
	}

	d1, d2 := dValues(p, vol)
	if p.Right == models.RightPut {
		return k*math.Exp(-p.RiskFree*t)*normCDF(-d2) - s*math.Exp(-p.Carry*t)*normCDF(-d1)
	}
	return s*math.Exp(-p.Carry*t)*normCDF(d1) - k*math.Exp(-p.RiskFree*t)*normCDF(d2)
}

// Delta returns the option's sensitivity to the underlying price, in
// [-1, 1]. At expiry it collapses to the exercise indicator (0.5 exactly
// at the money).
func Delta(p Params, vol float64) float64 {
	s, k, t := p.Underlying, p.Strike, p.TimeToExpiry

	if t <= 0 || s <= 0 || k <= 0 || vol <= 0 {
		return degenerateDelta(p)
	}

	d1, _ := dValues(p, vol)
	carry := math.Exp(-p.Carry * t)
	if p.Right == models.RightPut {
		return carry * (normCDF(d1) - 1)
	}
	return carry * normCDF(d1)
}

// Vega returns the option's sensitivity to volatility, per unit of
// annualized vol. Strictly positive for t > 0 and vol > 0, which is what
// keeps Newton steps well-posed away from degenerate inputs. Calls and
// puts share the same vega.
func Vega(p Params, vol float64) float64 {
	s, k, t := p.Underlying, p.Strike, p.TimeToExpiry

	if t <= 0 || s <= 0 || k <= 0 || vol <= 0 {
		return 0
	}

	d1, _ := dValues(p, vol)
	return s * math.Exp(-p.Carry*t) * normPDF(d1) * math.Sqrt(t)
}

// Theta returns time decay per calendar day. Negative for long options in
// the usual case. The annualized decay is divided by 365 so the number
// reads as "price change by tomorrow".
func Theta(p Params, vol float64) float64 {
	s, k, t := p.Underlying, p.Strike, p.TimeToExpiry

	if t <= 0 || s <= 0 || k <= 0 || vol <= 0 {
		return 0
	}

	d1, d2 := dValues(p, vol)
	carry := math.Exp(-p.Carry * t)
	disc := math.Exp(-p.RiskFree * t)

	decay := -s * carry * normPDF(d1) * vol / (2 * math.Sqrt(t))

	var annual float64
	if p.Right == models.RightPut {
		annual = decay + p.RiskFree*k*disc*normCDF(-d2) - p.Carry*s*carry*normCDF(-d1)
	} else {
		annual = decay - p.RiskFree*k*disc*normCDF(d2) + p.Carry*s*carry*normCDF(d1)
	}
	return annual / daysPerYear
}

// UpperBound returns the theoretical maximum value of the option: the
// discounted underlying for calls, the discounted strike for puts. No
// volatility can price the option above this.
func UpperBound(p Params) float64 {
	t := math.Max(p.TimeToExpiry, 0)
	if p.Right == models.RightPut {
		return p.Strike * math.Exp(-p.RiskFree*t)
	}
	return p.Underlying * math.Exp(-p.Carry*t)
}

// DiscountedIntrinsic returns the option value in the zero-volatility
// limit, which is also the no-arbitrage floor for the price.
func DiscountedIntrinsic(p Params) float64 {
	return discountedIntrinsic(p)
}

func intrinsic(p Params) float64 {
	if p.Right == models.RightPut {
		return math.Max(0, p.Strike-p.Underlying)
	}
	return math.Max(0, p.Underlying-p.Strike)
}

func discountedIntrinsic(p Params) float64 {
	t := math.Max(p.TimeToExpiry, 0)
	fwdS := p.Underlying * math.Exp(-p.Carry*t)
	fwdK := p.Strike * math.Exp(-p.RiskFree*t)
	if p.Right == models.RightPut {
		return math.Max(0, fwdK-fwdS)
	}
	return math.Max(0, fwdS-fwdK)
}

func degenerateDelta(p Params) float64 {
	if p.Right == models.RightPut {
		switch {
		case p.Underlying < p.Strike:
			return -1
		case p.Underlying > p.Strike:
			return 0
		default:
			return -0.5
		}
	}
	switch {
	case p.Underlying > p.Strike:
		return 1
	case p.Underlying < p.Strike:
		return 0
	default:
		return 0.5
	}
}

func dValues(p Params, vol float64) (d1, d2 float64) {
	sqrtT := math.Sqrt(p.TimeToExpiry)
	d1 = (math.Log(p.Underlying/p.Strike) + (p.RiskFree-p.Carry+0.5*vol*vol)*p.TimeToExpiry) / (vol * sqrtT)
	d2 = d1 - vol*sqrtT
	return d1, d2
}

// normCDF is the standard normal CDF. Erfc keeps the deep tails accurate
// where 1+Erf would cancel.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}
