package charges

import (
	"strings"

	"github.com/shopspring/decimal"

	"costengine/internal/core/apperror"
	"costengine/internal/core/types"
)

// UnitClass is a unit-of-measure class. Quantities are only comparable within a class.
type UnitClass string

const (
	ClassMass   UnitClass = "mass"
	ClassVolume UnitClass = "volume"
	ClassCount  UnitClass = "count"
)

// Unit is a unit of measure with its factor to the base unit of its class
// (kg for mass, litre for volume, piece for count).
type Unit struct {
	Code   string
	Class  UnitClass
	Factor decimal.Decimal
}

var units = map[string]Unit{}

func register(class UnitClass, factor string, codes ...string) {
	f := decimal.RequireFromString(factor)
	for _, c := range codes {
		units[c] = Unit{Code: c, Class: class, Factor: f}
	}
}

func init() {
	register(ClassMass, "0.001", "g", "gm", "gram")
	register(ClassMass, "1", "kg", "kgs")
	register(ClassMass, "100", "quintal", "qtl")
	register(ClassMass, "1000", "t", "ton", "tonne", "mt")
	register(ClassVolume, "0.001", "ml")
	register(ClassVolume, "1", "l", "ltr", "litre", "liter")
	register(ClassVolume, "1000", "kl")
	register(ClassCount, "1", "pcs", "pc", "nos", "bag", "bags", "box", "unit")
}

// LookupUnit resolves a unit code, case-insensitively.
func LookupUnit(code string) (Unit, bool) {
	u, ok := units[strings.ToLower(strings.TrimSpace(code))]
	return u, ok
}

// Normalize converts quantity to the base unit of its class.
func Normalize(quantity types.Quantity, unitCode string) (UnitClass, types.Quantity, error) {
	u, ok := LookupUnit(unitCode)
	if !ok {
		return "", decimal.Zero, apperror.NewValidation("unknown unit of measure").
			WithDetail("unit", unitCode)
	}
	return u.Class, quantity.Mul(u.Factor), nil
}
