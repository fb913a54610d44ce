package postgres

import (
	"reflect"
	"sync"
)

// columnCache maps a struct type to its ordered "db" columns.
var columnCache sync.Map // map[reflect.Type][]columnField

type columnField struct {
	index []int
	name  string
}

func columnsOf(t reflect.Type) []columnField {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := columnCache.Load(t); ok {
		return cached.([]columnField)
	}

	var fields []columnField
	if t.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(t) {
			if f.Anonymous || !f.IsExported() {
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "" || tag == "-" {
				continue
			}
			fields = append(fields, columnField{index: f.Index, name: tag})
		}
	}
	columnCache.Store(t, fields)
	return fields
}

// Columns lists the "db" tagged columns of T in field order. Fields tagged
// "-" (stage lines, byproduct yields) are stored out of band.
func Columns[T any]() []string {
	fields := columnsOf(reflect.TypeFor[T]())
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.name
	}
	return cols
}

// Values returns the column values of v in the order of Columns.
func Values(v any) []any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	fields := columnsOf(rv.Type())
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = rv.FieldByIndex(f.index).Interface()
	}
	return out
}

// StructToMap converts a struct into a column map for squirrel SetMap.
func StructToMap(v any) map[string]any {
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return nil
	}
	fields := columnsOf(rv.Type())
	res := make(map[string]any, len(fields))
	for _, f := range fields {
		res[f.name] = rv.FieldByIndex(f.index).Interface()
	}
	return res
}
