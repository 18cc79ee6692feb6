/*
Package finance computes fixed-installment amortization schedules.

PURPOSE:
  Pure calculation, no storage and no dates: given a principal, an annual
  rate, and a period count, produce the fixed installment amount and the
  per-period interest/principal/remaining-balance breakdown the lifecycle
  manager persists at agreement creation.

MONEY:
  All monetary values are decimal.Decimal holding whole smallest-currency-
  unit integers (rial). decimal avoids float drift in the running balance;
  even the annuity power term stays in decimal, via Pow on an integer
  exponent.

ROUNDING POLICY:
  The installment amount is rounded ONCE, to the nearest 100,000-rial step,
  before any per-period breakdown. Every period then shares that single
  rounded amount. Per-period interest is rounded half-away-from-zero to a
  whole unit. The final period's principal is forced to the remaining
  balance, absorbing all accumulated rounding drift, so the principal
  column always sums exactly to the input principal.

SEE ALSO:
  - agreement/: invokes ComputeSchedule at agreement creation
*/
package finance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RoundingStep is the increment the fixed installment amount is rounded to.
const RoundingStep = 100_000

// ErrInvalidArgument is the sentinel for rejected calculator inputs.
var ErrInvalidArgument = errors.New("invalid argument")

// InvalidArgumentError reports which input was rejected and why.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// =============================================================================
// SCHEDULE - Output of the calculator
// =============================================================================

// Line is one period of an amortization schedule. Period numbering starts
// at 1. Interest + Principal equals the fixed installment amount on every
// period except possibly the last, where Principal is the prior remaining
// balance exactly.
type Line struct {
	Period    int
	Interest  decimal.Decimal
	Principal decimal.Decimal
	Remaining decimal.Decimal
}

// Schedule is a complete amortization breakdown.
type Schedule struct {
	Principal          decimal.Decimal
	AnnualRatePercent  decimal.Decimal
	MonthlyRatePercent decimal.Decimal
	Periods            int

	// InstallmentAmount is the fixed per-period payment, rounded to
	// RoundingStep. Every Line shares it.
	InstallmentAmount decimal.Decimal
	TotalPayment      decimal.Decimal
	TotalInterest     decimal.Decimal

	Lines []Line
}

var stepDec = decimal.NewFromInt(RoundingStep)

// RoundToStep rounds v to the nearest RoundingStep increment,
// half away from zero.
func RoundToStep(v decimal.Decimal) decimal.Decimal {
	return v.Div(stepDec).Round(0).Mul(stepDec)
}

// =============================================================================
// CALCULATOR
// =============================================================================

// ComputeSchedule computes the fixed installment amount and per-period
// breakdown for a loan of principal over periods months at the given annual
// percentage rate. See the package comment for the rounding policy.
func ComputeSchedule(principal, annualRatePercent decimal.Decimal, periods int) (*Schedule, error) {
	if periods <= 0 {
		return nil, &InvalidArgumentError{Field: "periods", Reason: "must be positive"}
	}
	if principal.IsNegative() {
		return nil, &InvalidArgumentError{Field: "principal", Reason: "must not be negative"}
	}
	if annualRatePercent.IsNegative() {
		return nil, &InvalidArgumentError{Field: "annual rate", Reason: "must not be negative"}
	}

	periodsDec := decimal.NewFromInt(int64(periods))
	monthlyRate := annualRatePercent.Div(decimal.NewFromInt(12)).Div(decimal.NewFromInt(100))

	var installment decimal.Decimal
	if monthlyRate.IsZero() {
		installment = principal.Div(periodsDec)
	} else {
		// P * r * (1+r)^n / ((1+r)^n - 1)
		factor := decimal.NewFromInt(1).Add(monthlyRate).Pow(periodsDec)
		installment = principal.Mul(monthlyRate).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1)))
	}
	installment = RoundToStep(installment)

	totalPayment := installment.Mul(periodsDec)
	totalInterest := totalPayment.Sub(principal)

	lines := make([]Line, 0, periods)
	remaining := principal
	for period := 1; period <= periods; period++ {
		interest := remaining.Mul(monthlyRate).Round(0)
		principalPart := installment.Sub(interest)
		if period == periods {
			// Terminal adjustment: the schedule reconciles to zero here.
			principalPart = remaining
		} else if principalPart.GreaterThan(remaining) {
			// A stepped-up installment can overshoot the balance before the
			// final period; capping principal keeps the column summing to
			// the input principal exactly.
			principalPart = remaining
		}

		remaining = remaining.Sub(principalPart)

		lines = append(lines, Line{
			Period:    period,
			Interest:  interest,
			Principal: principalPart,
			Remaining: remaining,
		})
	}

	return &Schedule{
		Principal:          principal,
		AnnualRatePercent:  annualRatePercent,
		MonthlyRatePercent: monthlyRate.Mul(decimal.NewFromInt(100)),
		Periods:            periods,
		InstallmentAmount:  installment,
		TotalPayment:       totalPayment,
		TotalInterest:      totalInterest,
		Lines:              lines,
	}, nil
}
