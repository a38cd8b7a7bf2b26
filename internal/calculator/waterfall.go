package calculator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tyranno/nanumpay-sub001/internal/models"
)

// ErrInvalidRevenue is matched by every InvalidRevenueError.
var ErrInvalidRevenue = errors.New("invalid revenue input")

// InvalidRevenueError rejects a revenue figure that is negative or not finite.
type InvalidRevenueError struct {
	Revenue float64
}

func (e *InvalidRevenueError) Error() string {
	return fmt.Sprintf("invalid revenue input: %v", e.Revenue)
}

func (e *InvalidRevenueError) Is(target error) bool {
	return target == ErrInvalidRevenue
}

// ValidateRevenue returns an *InvalidRevenueError for negative, NaN or infinite revenue.
func ValidateRevenue(revenue float64) error {
	if math.IsNaN(revenue) || math.IsInf(revenue, 0) || revenue < 0 {
		return &InvalidRevenueError{Revenue: revenue}
	}
	return nil
}

// Ratios is the share of revenue allocated to each grade, indexed by Grade.Index().
type Ratios [models.NumGrades]float64

// DefaultRatios allocates 57% of revenue across F1..F8.
var DefaultRatios = Ratios{0.24, 0.19, 0.14, 0.09, 0.05, 0.03, 0.02, 0.01}

// Waterfall turns a revenue figure and a grade distribution into a payment table.
type Waterfall struct {
	Ratios Ratios

	// Unit is the currency unit every payment is truncated to.
	Unit int64
}

// NewWaterfall returns a waterfall with the default ratios and a 100 unit.
func NewWaterfall() Waterfall {
	return Waterfall{Ratios: DefaultRatios, Unit: 100}
}

// Compute derives the per-grade payment table.
//
// For each grade G from F1 up, the grade's share revenue*ratio(G) is divided
// by count(G)+count(G+1) (F8 alone for F8), added to the payment of G-1 and
// truncated to Unit. A zero divisor carries the previous payment forward.
// Arithmetic is decimal so the same inputs always produce the same table.
func (w Waterfall) Compute(revenue float64, dist models.GradeCounts) (models.GradePaymentTable, error) {
	table := models.GradePaymentTable{
		Revenue:      revenue,
		Distribution: dist,
		ComputedAt:   time.Now().UTC(),
	}
	if err := ValidateRevenue(revenue); err != nil {
		return table, err
	}
	if w.Unit <= 0 {
		return table, fmt.Errorf("invalid payment unit: %d", w.Unit)
	}
	for _, r := range w.Ratios {
		if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return table, fmt.Errorf("invalid grade ratio: %v", r)
		}
	}

	rev := decimal.NewFromFloat(revenue)
	unit := decimal.NewFromInt(w.Unit)
	prev := decimal.Zero

	for _, g := range models.Grades {
		divisor := dist.Get(g)
		if next, ok := g.Next(); ok {
			divisor += dist.Get(next)
		}

		payment := prev
		if divisor > 0 {
			share := rev.Mul(decimal.NewFromFloat(w.Ratios[g.Index()])).Div(decimal.NewFromInt(int64(divisor)))
			payment = share.Add(prev).Div(unit).Floor().Mul(unit)
		}
		table.Amounts[g.Index()] = payment.IntPart()
		prev = payment
	}
	return table, nil
}

// ComputeGradePayments runs the default waterfall.
func ComputeGradePayments(revenue float64, dist models.GradeCounts) (models.GradePaymentTable, error) {
	return NewWaterfall().Compute(revenue, dist)
}
