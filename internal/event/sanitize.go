package event

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"time"
)

const maxSanitizeDepth = 20

// sanitize is a total function: it never panics and never returns an error.
// It walks v, truncating at maxSanitizeDepth, replacing already-visited
// object identities with "<circular_ref:T>", converting byte slices to
// base64 strings, platform timestamps to RFC3339 strings, and anything it
// cannot represent into "<unserializable:T>".
func sanitize(v any) any {
	return sanitizeValue(reflect.ValueOf(v), 0, map[uintptr]bool{})
}

func sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	visited := map[uintptr]bool{}
	for k, val := range m {
		out[k] = sanitizeValue(reflect.ValueOf(val), 0, visited)
	}
	return out
}

func sanitizeValue(rv reflect.Value, depth int, visited map[uintptr]bool) any {
	if !rv.IsValid() {
		return nil
	}
	if depth > maxSanitizeDepth {
		return fmt.Sprintf("<truncated_depth:%s>", rv.Type())
	}

	// Timestamps and similar "platform-native" stringable values serialize
	// as strings rather than leaking struct internals.
	if t, ok := rv.Interface().(time.Time); ok {
		return t.Format(time.RFC3339Nano)
	}
	if stringer, ok := rv.Interface().(fmt.Stringer); ok {
		if _, isErr := rv.Interface().(error); !isErr {
			return stringer.String()
		}
	}
	if err, ok := rv.Interface().(error); ok {
		return err.Error()
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem(), depth, visited)

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes())
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		id, seen := identityOf(rv)
		if seen {
			if visited[id] {
				return fmt.Sprintf("<circular_ref:%s>", rv.Type())
			}
			visited[id] = true
			defer delete(visited, id)
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitizeValue(rv.Index(i), depth+1, visited)
		}
		return out

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		id, _ := identityOf(rv)
		if visited[id] {
			return fmt.Sprintf("<circular_ref:%s>", rv.Type())
		}
		visited[id] = true
		defer delete(visited, id)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = sanitizeValue(iter.Value(), depth+1, visited)
		}
		return out

	case reflect.Struct:
		id, seen := identityOf(rv)
		if seen && visited[id] {
			return fmt.Sprintf("<circular_ref:%s>", rv.Type())
		}
		if seen {
			visited[id] = true
			defer delete(visited, id)
		}
		out := make(map[string]any, rv.NumField())
		rt := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			field := rt.Field(i)
			if !field.IsExported() {
				continue
			}
			out[field.Name] = sanitizeValue(rv.Field(i), depth+1, visited)
		}
		return out

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("<unserializable:%s>", rv.Type())

	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	default:
		return fmt.Sprintf("<unserializable:%s>", rv.Type())
	}
}

// identityOf returns a pointer-sized identity for reference-backed values
// (slices, maps, structs addressed through an interface) so cycles can be
// detected without language-level identity hashing.
func identityOf(rv reflect.Value) (uintptr, bool) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Pointer(), true
	case reflect.Struct:
		if rv.CanAddr() {
			return rv.UnsafeAddr(), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// Sanitize exposes the sanitizer for producers building Data payloads
// outside of New/Custom (e.g. provider adapters attaching raw SDK structs).
func Sanitize(v any) any {
	return sanitize(v)
}
