package sandbox

import (
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/KaramelBytes/dataloom-cli/internal/frame"
)

// Packages lists what a snippet may reference besides df and result.
var Packages = []string{"fmt", "math", "sort", "strconv", "strings", "frame"}

var stdlibPackages = []string{"fmt", "math", "sort", "strconv", "strings"}

// exports builds the symbol table for one interpreter: a subset of the standard
// library, the frame types and the df binding.
func exports(f *frame.Frame) interp.Exports {
	ex := make(interp.Exports, len(stdlibPackages)+2)
	for _, p := range stdlibPackages {
		key := p + "/" + p
		ex[key] = stdlib.Symbols[key]
	}
	ex["dataloom/frame/frame"] = map[string]reflect.Value{
		"Frame":      reflect.ValueOf((*frame.Frame)(nil)),
		"Column":     reflect.ValueOf((*frame.Column)(nil)),
		"Grouped":    reflect.ValueOf((*frame.Grouped)(nil)),
		"Row":        reflect.ValueOf((*frame.Row)(nil)),
		"ValueCount": reflect.ValueOf((*frame.ValueCount)(nil)),
	}
	df := f
	ex["dataloom/data/data"] = map[string]reflect.Value{
		"DF": reflect.ValueOf(&df).Elem(),
	}
	return ex
}

const wrapHeader = `package main

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"dataloom/data"
	"dataloom/frame"
)

var (
	_ = fmt.Sprint
	_ = math.Abs
	_ = sort.Strings
	_ = strconv.Itoa
	_ = strings.TrimSpace
	_ = (*frame.Frame)(nil)
)

func Run() (result interface{}) {
	df := data.DF
	_ = df
`

const wrapFooter = `
	return result
}
`

var wrapHeaderLines = strings.Count(wrapHeader, "\n")

func wrap(body string) string {
	return wrapHeader + body + wrapFooter
}
