// Package stagecost prices the cost elements of one production stage.
//
// The calculator is a pure function of its inputs: the catalog elements, a small
// quantity context and typed per-element overrides. Persisting the result is the
// caller's responsibility.
package stagecost

import (
	"strings"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
	"costengine/internal/domain/catalog"
	"costengine/internal/domain/override"
)

// DefaultBagSize is the quantity filling one bag for per_bag elements.
var DefaultBagSize = decimal.NewFromInt(50)

// Context carries the quantities a stage is priced on.
type Context struct {
	Quantity       types.Quantity `json:"quantity"`
	OutputQuantity types.Quantity `json:"outputQuantity"`
	Hours          types.Quantity `json:"hours"`
}

// Override is the operator input for one element. Rate replaces the default rate
// when positive; ActualAmount is the monetary value of actual_entry elements;
// Enabled toggles optional elements.
type Override struct {
	Rate         *types.Money `json:"rate,omitempty"`
	ActualAmount *types.Money `json:"actualAmount,omitempty"`
	Enabled      *bool        `json:"enabled,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// Overrides maps element identifiers to operator input.
type Overrides map[id.ID]Override

// Line is the priced outcome of one element (StageCostLine).
type Line struct {
	ElementID        id.ID            `json:"elementId"`
	ElementName      string           `json:"elementName"`
	Category         catalog.Category `json:"category"`
	Method           catalog.Method   `json:"calculationMethod"`
	Applied          bool             `json:"applied"`
	Quantity         types.Quantity   `json:"quantity"`
	DefaultRate      types.Money      `json:"defaultRate"`
	Rate             types.Money      `json:"rate"`
	Total            types.Money      `json:"total"`
	Overridden       bool             `json:"overridden"`
	OverrideReason   string           `json:"overrideReason,omitempty"`
	DeviationPercent decimal.Decimal  `json:"deviationPercent"`
}

// Result is the list of lines of a stage and their running total.
type Result struct {
	Stage catalog.Stage `json:"stage"`
	Lines []Line        `json:"lines"`
	Total types.Money   `json:"total"`
}

// AppliedLines returns only the lines contributing to the total.
func (r Result) AppliedLines() []Line {
	out := make([]Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		if l.Applied {
			out = append(out, l)
		}
	}
	return out
}

// Calculator prices stages.
type Calculator struct {
	auditor *override.Auditor
	bagSize decimal.Decimal
}

// NewCalculator creates a calculator. A non-positive bagSize falls back to DefaultBagSize.
func NewCalculator(auditor *override.Auditor, bagSize decimal.Decimal) *Calculator {
	if !bagSize.IsPositive() {
		bagSize = DefaultBagSize
	}
	if auditor == nil {
		auditor = override.NewAuditor(nil)
	}
	return &Calculator{auditor: auditor, bagSize: bagSize}
}

// Calculate prices every element applicable to stage. It fails atomically: any
// invalid override rejects the whole calculation.
func (c *Calculator) Calculate(stage catalog.Stage, elements []catalog.CostElement, cctx Context, overrides Overrides) (Result, error) {
	if err := validateContext(cctx); err != nil {
		return Result{}, err
	}

	res := Result{Stage: stage, Lines: make([]Line, 0, len(elements)), Total: decimal.Zero}
	for _, el := range elements {
		if !el.AppliesTo(stage) {
			continue
		}
		line, err := c.price(el, cctx, overrides[el.ID])
		if err != nil {
			return Result{}, err
		}
		if line.Applied {
			res.Total = res.Total.Add(line.Total)
		}
		res.Lines = append(res.Lines, line)
	}
	return res, nil
}

func (c *Calculator) price(el catalog.CostElement, cctx Context, ov Override) (Line, error) {
	line := Line{
		ElementID:        el.ID,
		ElementName:      el.Name,
		Category:         el.Category,
		Method:           el.Method,
		Applied:          isApplied(el, ov),
		DefaultRate:      el.DefaultRate,
		Rate:             el.DefaultRate,
		Quantity:         decimal.Zero,
		Total:            decimal.Zero,
		DeviationPercent: decimal.Zero,
	}

	if el.Method == catalog.MethodActualEntry {
		amount := decimal.Zero
		if ov.ActualAmount != nil {
			if ov.ActualAmount.IsNegative() {
				return Line{}, invalidOverride(el, "actual amount must not be negative")
			}
			amount = *ov.ActualAmount
		}
		line.Quantity = decimal.NewFromInt(1)
		line.Rate = amount
		line.Total = amount
		if !line.Applied {
			line.Total = decimal.Zero
		}
		return line, nil
	}

	if err := c.applyRateOverride(el, ov, &line); err != nil {
		return Line{}, err
	}

	switch el.Method {
	case catalog.MethodPerQuantity:
		line.Quantity = cctx.Quantity
		if el.UseOutputQuantity {
			line.Quantity = cctx.OutputQuantity
		}
	case catalog.MethodPerHour:
		line.Quantity = cctx.Hours
		if cctx.Hours.IsZero() {
			line.Applied = false
		}
	case catalog.MethodFixed:
		line.Quantity = decimal.NewFromInt(1)
	case catalog.MethodPerBag:
		line.Quantity = BagCount(cctx.Quantity, c.bagSize)
	default:
		return Line{}, invalidOverride(el, "unsupported calculation method "+string(el.Method))
	}

	if !line.Rate.IsPositive() {
		line.Applied = false
	}
	if line.Applied {
		line.Total = line.Quantity.Mul(line.Rate)
	}
	return line, nil
}

func (c *Calculator) applyRateOverride(el catalog.CostElement, ov Override, line *Line) error {
	if ov.Rate == nil {
		return nil
	}
	if ov.Rate.IsNegative() {
		return invalidOverride(el, "rate must not be negative")
	}
	if ov.Rate.IsZero() || ov.Rate.Equal(el.DefaultRate) {
		return nil
	}
	eval := c.auditor.Evaluate(el.DefaultRate, *ov.Rate)
	if eval.RequiresReason && strings.TrimSpace(ov.Reason) == "" {
		return apperror.NewValidation("reason required").
			WithDetail("elementId", el.ID).
			WithDetail("element", el.Name).
			WithDetail("deviationPercent", eval.DeviationPercent.StringFixed(2))
	}
	line.Rate = *ov.Rate
	line.Overridden = true
	line.OverrideReason = strings.TrimSpace(ov.Reason)
	line.DeviationPercent = eval.DeviationPercent
	return nil
}

// isApplied resolves the toggle: required elements are always on, optional
// elements only when explicitly enabled.
func isApplied(el catalog.CostElement, ov Override) bool {
	if !el.Optional {
		return true
	}
	return ov.Enabled != nil && *ov.Enabled
}

// BagCount returns ceil(quantity / bagSize).
func BagCount(quantity, bagSize decimal.Decimal) decimal.Decimal {
	if !quantity.IsPositive() || !bagSize.IsPositive() {
		return decimal.Zero
	}
	return quantity.Div(bagSize).Ceil()
}

func validateContext(cctx Context) error {
	switch {
	case cctx.Quantity.IsNegative():
		return apperror.NewValidation("quantity must not be negative").WithDetail("field", "quantity")
	case cctx.OutputQuantity.IsNegative():
		return apperror.NewValidation("output quantity must not be negative").WithDetail("field", "outputQuantity")
	case cctx.Hours.IsNegative():
		return apperror.NewValidation("hours must not be negative").WithDetail("field", "hours")
	}
	return nil
}

func invalidOverride(el catalog.CostElement, msg string) error {
	return apperror.NewValidation(msg).
		WithDetail("elementId", el.ID).
		WithDetail("element", el.Name)
}
