package sandbox

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/KaramelBytes/dataloom-cli/internal/frame"
)

const (
	maxRenderBytes = 64 << 10
	maxRenderItems = 50
	frameRows      = 20
)

// Render formats a snippet result for the model. Integral floats keep one
// decimal ("42.0"), frames render as markdown tables and maps list sorted keys.
func Render(v any) string {
	s := render(v, 0)
	if len(s) > maxRenderBytes {
		s = s[:maxRenderBytes] + "\n... (truncated)"
	}
	return s
}

func render(v any, depth int) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return x
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case bool:
		return strconv.FormatBool(x)
	case *frame.Frame:
		if x == nil {
			return "nil"
		}
		return strings.TrimRight(x.Markdown(frameRows), "\n")
	case *frame.Column:
		if x == nil {
			return "nil"
		}
		return renderColumn(x)
	case *frame.Grouped:
		if x == nil {
			return "nil"
		}
		return renderCounts(x.Keys(), x.Count())
	case frame.ValueCount:
		return fmt.Sprintf("%s: %d", x.Value, x.Count)
	case []frame.ValueCount:
		lines := make([]string, len(x))
		for i, vc := range x {
			lines[i] = fmt.Sprintf("%s: %d", vc.Value, vc.Count)
		}
		return strings.Join(lines, "\n")
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	}
	return renderReflect(reflect.ValueOf(v), depth)
}

func renderReflect(rv reflect.Value, depth int) string {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return render(rv.Elem().Interface(), depth)
	case reflect.Slice, reflect.Array:
		if depth > 2 {
			return fmt.Sprint(rv.Interface())
		}
		n := rv.Len()
		items := make([]string, 0, min(n, maxRenderItems))
		for i := 0; i < n && i < maxRenderItems; i++ {
			items = append(items, render(rv.Index(i).Interface(), depth+1))
		}
		if n > maxRenderItems {
			items = append(items, fmt.Sprintf("... (%d items)", n))
		}
		return "[" + strings.Join(items, ", ") + "]"
	case reflect.Map:
		if depth > 2 {
			return fmt.Sprint(rv.Interface())
		}
		type kv struct{ k, v string }
		pairs := make([]kv, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pairs = append(pairs, kv{render(iter.Key().Interface(), depth+1), render(iter.Value().Interface(), depth+1)})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })
		lines := make([]string, len(pairs))
		for i, p := range pairs {
			lines[i] = p.k + ": " + p.v
		}
		if depth > 0 {
			return "{" + strings.Join(lines, ", ") + "}"
		}
		return strings.Join(lines, "\n")
	}
	if rv.IsValid() && rv.CanInterface() {
		return fmt.Sprintf("%+v", rv.Interface())
	}
	return "nil"
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	case f == math.Trunc(f) && math.Abs(f) < 1e15:
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func renderColumn(c *frame.Column) string {
	n := c.Len()
	items := make([]string, 0, min(n, maxRenderItems))
	for i := 0; i < n && i < maxRenderItems; i++ {
		if c.IsNumeric() {
			items = append(items, formatFloat(c.Float(i)))
		} else {
			items = append(items, c.At(i))
		}
	}
	s := fmt.Sprintf("%s (%s, %d rows): [%s", c.Name(), c.Kind(), n, strings.Join(items, ", "))
	if n > maxRenderItems {
		s += ", ..."
	}
	return s + "]"
}

func renderCounts(keys []string, counts map[string]int) string {
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%s: %d rows", k, counts[k])
	}
	return strings.Join(lines, "\n")
}
