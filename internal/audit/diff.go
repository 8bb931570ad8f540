package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

const maxSnapshotDepth = 32

// Change is the before and after value of one field.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff compares the exported fields of two values of the same struct type.
func Diff(before, after any) (map[string]Change, error) {
	bv := indirect(reflect.ValueOf(before))
	av := indirect(reflect.ValueOf(after))
	if !bv.IsValid() || !av.IsValid() {
		return nil, fmt.Errorf("audit diff: nil value")
	}
	if bv.Type() != av.Type() {
		return nil, fmt.Errorf("audit diff: type mismatch %s vs %s", bv.Type(), av.Type())
	}
	if bv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("audit diff: %s is not a struct", bv.Type())
	}

	changes := make(map[string]Change)
	t := bv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		from := Snapshot(bv.Field(i).Interface())
		to := Snapshot(av.Field(i).Interface())
		if !reflect.DeepEqual(from, to) {
			changes[field.Name] = Change{From: from, To: to}
		}
	}
	return changes, nil
}

// Snapshot converts v into plain maps, slices and scalars that encoding/json
// can always marshal. A pointer, map or slice that is revisited while it is
// still being walked becomes nil, so cyclic graphs serialize instead of failing.
func Snapshot(v any) any {
	w := walker{visiting: make(map[uintptr]bool)}
	return w.walk(reflect.ValueOf(v), 0)
}

// Marshal serializes v through Snapshot.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(Snapshot(v))
}

type walker struct {
	visiting map[uintptr]bool
}

var timeType = reflect.TypeOf(time.Time{})

func (w walker) walk(v reflect.Value, depth int) any {
	if !v.IsValid() || depth > maxSnapshotDepth {
		return nil
	}
	if v.Type() == timeType {
		return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano)
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return w.guard(v.Pointer(), func() any { return w.walk(v.Elem(), depth+1) })
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return w.walk(v.Elem(), depth+1)
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := fieldName(f)
			if name == "-" {
				continue
			}
			out[name] = w.walk(v.Field(i), depth+1)
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		return w.guard(v.Pointer(), func() any {
			out := make(map[string]any, v.Len())
			iter := v.MapRange()
			for iter.Next() {
				out[fmt.Sprint(iter.Key().Interface())] = w.walk(iter.Value(), depth+1)
			}
			return out
		})
	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return string(v.Bytes())
		}
		return w.guard(v.Pointer(), func() any { return w.list(v, depth) })
	case reflect.Array:
		return w.list(v, depth)
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return nil
	default:
		return v.Interface()
	}
}

func (w walker) list(v reflect.Value, depth int) any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = w.walk(v.Index(i), depth+1)
	}
	return out
}

func (w walker) guard(addr uintptr, fn func() any) any {
	if w.visiting[addr] {
		return nil
	}
	w.visiting[addr] = true
	defer delete(w.visiting, addr)
	return fn()
}

func fieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return f.Name
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
