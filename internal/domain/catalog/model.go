// Package catalog provides cost-element master data and the time-bounded RateCatalog cache.
package catalog

import (
	"slices"
	"strings"

	"costengine/internal/core/id"
	"costengine/internal/core/types"
)

// Category groups cost elements for reporting.
type Category string

const (
	CategoryLabor       Category = "Labor"
	CategoryUtilities   Category = "Utilities"
	CategoryConsumables Category = "Consumables"
	CategoryTransport   Category = "Transport"
	CategoryQuality     Category = "Quality"
	CategoryMaintenance Category = "Maintenance"
	CategoryOther       Category = "Other"
)

// Method defines how quantity and cost of an element are derived.
type Method string

const (
	MethodPerQuantity Method = "per_quantity"
	MethodPerHour     Method = "per_hour"
	MethodFixed       Method = "fixed"
	MethodActualEntry Method = "actual_entry"
	MethodPerBag      Method = "per_bag"
)

// Stage is a production stage a cost element can apply to.
type Stage string

const (
	StageDrying        Stage = "drying"
	StageCrushing      Stage = "crushing"
	StageCompleteBatch Stage = "complete_batch"
)

// Stages lists every known stage in processing order.
var Stages = []Stage{StageDrying, StageCrushing, StageCompleteBatch}

// ParseStage validates a stage identifier.
func ParseStage(s string) (Stage, bool) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	return st, slices.Contains(Stages, st)
}

// CostElement is a priced cost driver. Elements are immutable once part of a Snapshot.
type CostElement struct {
	ID          id.ID       `db:"id" json:"id"`
	Name        string      `db:"name" json:"name" validate:"required,max=200"`
	Category    Category    `db:"category" json:"category" validate:"required,oneof=Labor Utilities Consumables Transport Quality Maintenance Other"`
	UnitType    string      `db:"unit_type" json:"unitType"`
	Method      Method      `db:"calculation_method" json:"calculationMethod" validate:"required,oneof=per_quantity per_hour fixed actual_entry per_bag"`
	DefaultRate types.Money `db:"default_rate" json:"defaultRate"`
	Optional    bool        `db:"is_optional" json:"optional"`
	Stages      []Stage     `db:"stages" json:"stages" validate:"dive,oneof=drying crushing complete_batch"`

	// UseOutputQuantity makes per_quantity elements use the stage output instead of its input.
	UseOutputQuantity bool `db:"computed_from_output" json:"computedFromOutput"`
}

// AppliesTo reports explicit stage membership.
func (e CostElement) AppliesTo(stage Stage) bool {
	return slices.Contains(e.Stages, stage)
}

// legacyStagePatterns maps display-name fragments to stages for elements
// created before stage tagging existed.
var legacyStagePatterns = []struct {
	fragment string
	stage    Stage
}{
	{"dry", StageDrying},
	{"crush", StageCrushing},
}

// MigrateLegacyStages assigns stages to untagged elements from their display name.
// It runs once per snapshot build; stage filtering never looks at names.
// Untagged elements that match no pattern apply to the complete batch.
func MigrateLegacyStages(e CostElement) CostElement {
	if len(e.Stages) > 0 {
		return e
	}
	name := strings.ToLower(e.Name)
	var stages []Stage
	for _, p := range legacyStagePatterns {
		if strings.Contains(name, p.fragment) {
			stages = append(stages, p.stage)
		}
	}
	if len(stages) == 0 {
		stages = []Stage{StageCompleteBatch}
	}
	e.Stages = stages
	return e
}
