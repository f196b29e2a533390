package pool

import "math/big"

// InterestModel encapsulates the kinked rate curve that maps reserve
// utilisation to borrow and liquidity rates.
type InterestModel struct {
	// BaseRate is the minimum borrow rate applied at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is the borrow rate increase per unit of utilisation up to the
	// kink point.
	Slope1 *big.Rat
	// Slope2 governs the additional increase applied beyond the kink.
	Slope2 *big.Rat
	// Kink is the utilisation ratio where the slope changes to encourage
	// liquidity.
	Kink *big.Rat
}

// NewInterestModel constructs an interest model from decimal inputs, e.g. a 2%
// base rate is 0.02 and an 80% kink utilisation is 0.8.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	clone := &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
	return clone
}

// Utilisation computes U = totalDebt / (totalDebt + availableLiquidity). When
// the reserve holds nothing the utilisation is defined as zero.
func (m *InterestModel) Utilisation(totalDebt, availableLiquidity *big.Int) *big.Rat {
	if totalDebt == nil || totalDebt.Sign() == 0 {
		return new(big.Rat)
	}
	total := new(big.Int).Set(totalDebt)
	if availableLiquidity != nil && availableLiquidity.Sign() > 0 {
		total.Add(total, availableLiquidity)
	}
	if total.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalDebt, total)
}

// BorrowRate derives the annualised borrow rate for the given utilisation.
func (m *InterestModel) BorrowRate(utilisation *big.Rat) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	if utilisation == nil || utilisation.Sign() == 0 {
		return rate
	}
	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		// Linear region before the kink.
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilisation))
	}
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	if excess.Sign() < 0 {
		excess.SetInt64(0)
	}
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// Rates recomputes the annualised borrow and liquidity rates from the reserve
// totals, returning both as rays. The liquidity rate is the borrow rate
// weighted by utilisation: all paid interest flows back to depositors.
func (m *InterestModel) Rates(totalDebt, availableLiquidity *big.Int) (borrowRay, liquidityRay *big.Int) {
	if m == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	utilisation := m.Utilisation(totalDebt, availableLiquidity)
	borrow := m.BorrowRate(utilisation)
	liquidity := new(big.Rat).Mul(borrow, utilisation)
	return ratToRay(borrow), ratToRay(liquidity)
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel provides a reasonable starting configuration featuring
// a kinked curve with a modest base rate.
var DefaultInterestModel = NewInterestModel(0.02, 0.15, 0.6, 0.8)
