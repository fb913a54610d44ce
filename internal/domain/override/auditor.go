// Package override validates manual rate overrides against catalog rates and
// produces the audit records that accompany them.
package override

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// DefaultThresholdPercent is the deviation above which a reason is mandatory.
var DefaultThresholdPercent = decimal.NewFromInt(20)

// Evaluation is the outcome of comparing a proposed rate with the catalog rate.
type Evaluation struct {
	DeviationPercent decimal.Decimal
	RequiresReason   bool
}

// Record is the audit trail entry of an accepted override.
type Record struct {
	ID               id.ID           `db:"id" json:"id"`
	ElementID        id.ID           `db:"element_id" json:"elementId"`
	ElementName      string          `db:"element_name" json:"elementName"`
	BatchID          *id.ID          `db:"batch_id" json:"batchId,omitempty"`
	OriginalRate     types.Money     `db:"original_rate" json:"originalRate"`
	NewRate          types.Money     `db:"new_rate" json:"newRate"`
	DeviationPercent decimal.Decimal `db:"deviation_percent" json:"deviationPercent"`
	Reason           string          `db:"reason" json:"reason"`

	// ApplyToFuture asks the caller to update the catalog default rate.
	// The auditor never mutates the catalog itself.
	ApplyToFuture bool      `db:"apply_to_future" json:"applyToFuture"`
	Actor         string    `db:"actor" json:"actor"`
	Timestamp     time.Time `db:"created_at" json:"timestamp"`
}

// Submission is a proposed override as entered by the operator.
type Submission struct {
	ElementID     id.ID
	ElementName   string
	BatchID       *id.ID
	DefaultRate   types.Money
	ProposedRate  types.Money
	Reason        string
	ApplyToFuture bool
}

// Auditor evaluates overrides with a configurable threshold.
type Auditor struct {
	threshold decimal.Decimal
	now       func() time.Time
}

// NewAuditor creates an auditor. A nil threshold uses DefaultThresholdPercent.
func NewAuditor(threshold *decimal.Decimal) *Auditor {
	a := &Auditor{threshold: DefaultThresholdPercent, now: time.Now}
	if threshold != nil {
		a.threshold = *threshold
	}
	return a
}

// Evaluate computes the signed deviation of proposed from the default rate.
// A zero default rate has no meaningful deviation and yields 0.
// A reason is required only when the absolute deviation is strictly above the threshold.
func (a *Auditor) Evaluate(defaultRate, proposedRate types.Money) Evaluation {
	if defaultRate.IsZero() {
		return Evaluation{DeviationPercent: decimal.Zero}
	}
	deviation := proposedRate.Sub(defaultRate).Div(defaultRate).Mul(types.Hundred)
	return Evaluation{
		DeviationPercent: deviation,
		RequiresReason:   deviation.Abs().GreaterThan(a.threshold),
	}
}

// ValidateSubmission checks a proposed override and returns its audit record.
func (a *Auditor) ValidateSubmission(proposedRate types.Money, reason string, requiresReason bool) (Record, error) {
	if !proposedRate.IsPositive() {
		return Record{}, apperror.NewValidation("rate must be positive").
			WithDetail("field", "rate")
	}
	if requiresReason && strings.TrimSpace(reason) == "" {
		return Record{}, apperror.NewValidation("reason required").
			WithDetail("field", "reason")
	}
	return Record{
		ID:        id.New(),
		NewRate:   proposedRate,
		Reason:    strings.TrimSpace(reason),
		Timestamp: a.now().UTC(),
	}, nil
}

// Review runs Evaluate and ValidateSubmission for a full submission.
func (a *Auditor) Review(s Submission, actor string) (Record, error) {
	eval := a.Evaluate(s.DefaultRate, s.ProposedRate)
	rec, err := a.ValidateSubmission(s.ProposedRate, s.Reason, eval.RequiresReason)
	if err != nil {
		return Record{}, err
	}
	rec.ElementID = s.ElementID
	rec.ElementName = s.ElementName
	rec.BatchID = s.BatchID
	rec.OriginalRate = s.DefaultRate
	rec.DeviationPercent = eval.DeviationPercent
	rec.ApplyToFuture = s.ApplyToFuture
	rec.Actor = actor
	return rec, nil
}
