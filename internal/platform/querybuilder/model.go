package querybuilder

import (
	"errors"
	"reflect"
	"strings"
	"sync"
)

// Row structs map onto tables through their `db` tags, the same tags sqlx
// scans with. ColumnsOf and ValuesOf walk the fields in declaration order, so
// a SELECT list and an INSERT built from one struct always line up.

type columnPlan struct {
	names []string
	index []int
}

var plans sync.Map // reflect.Type -> columnPlan

func planFor(t reflect.Type) columnPlan {
	if cached, ok := plans.Load(t); ok {
		return cached.(columnPlan)
	}
	var p columnPlan
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("db"), ",")
		name = strings.TrimSpace(name)
		if !f.IsExported() || name == "" || name == "-" {
			continue
		}
		p.names = append(p.names, name)
		p.index = append(p.index, i)
	}
	plans.Store(t, p)
	return p
}

func structOf(model any) (reflect.Value, error) {
	v := reflect.ValueOf(model)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, errors.New("querybuilder: nil model")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, errors.New("querybuilder: model must be a struct, got " + v.Kind().String())
	}
	return v, nil
}

// ColumnsOf lists the db columns of model. It returns nil for anything that
// is not a struct.
func ColumnsOf(model any) []string {
	v, err := structOf(model)
	if err != nil {
		return nil
	}
	return append([]string(nil), planFor(v.Type()).names...)
}

// ValuesOf returns the field values of model in ColumnsOf order, ready for
// InsertBuilder.Values.
func ValuesOf(model any) ([]any, error) {
	v, err := structOf(model)
	if err != nil {
		return nil, err
	}
	p := planFor(v.Type())
	if len(p.index) == 0 {
		return nil, errors.New("querybuilder: model has no db columns")
	}
	out := make([]any, len(p.index))
	for i, idx := range p.index {
		out[i] = v.Field(idx).Interface()
	}
	return out, nil
}
