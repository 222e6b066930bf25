package sandbox

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/scanner"
	"go/token"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	checkPrefix = "package snippet\n\nfunc run(df *frame.Frame) (result interface{}) {\n"
	checkSuffix = "\n}\n"
)

var (
	checkPrefixLines = strings.Count(checkPrefix, "\n")
	posRe            = regexp.MustCompile(`^[^\s:]*:(\d+):(\d+): `)
)

func allowedPackage(name string) bool {
	for _, p := range Packages {
		if p == name {
			return true
		}
	}
	return false
}

// resultTemp prefixes the temporaries that carry result out of a multi-name
// short declaration.
const resultTemp = "dataloomResult"

// validate checks code statically and returns the body to interpret. Top-level
// short declarations of result are rewritten so they set the named result.
func validate(code string, lim Limits) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", &ViolationError{Code: code, Reason: "empty snippet"}
	}
	if len(code) > lim.MaxCodeBytes {
		return "", &ViolationError{Code: code, Reason: fmt.Sprintf("snippet is %d bytes, limit is %d", len(code), lim.MaxCodeBytes)}
	}
	if kw := fileKeyword(code); kw != "" {
		return "", &ViolationError{Code: code, Reason: fmt.Sprintf("%s declarations are not allowed; available packages: %s", kw, strings.Join(Packages, ", "))}
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", checkPrefix+code+checkSuffix, 0)
	if err != nil {
		return "", &ExecError{Code: code, Err: syntaxError(err)}
	}

	var reason string
	ast.Inspect(file, func(n ast.Node) bool {
		if reason != "" {
			return false
		}
		switch x := n.(type) {
		case *ast.GoStmt:
			reason = "goroutines are not allowed"
		case *ast.BranchStmt:
			if x.Tok == token.GOTO {
				reason = "goto is not allowed"
			}
		case *ast.SelectorExpr:
			if id, ok := x.X.(*ast.Ident); ok && id.Obj == nil && !allowedPackage(id.Name) {
				reason = fmt.Sprintf("package %q is not available; available packages: %s", id.Name, strings.Join(Packages, ", "))
			}
		}
		return true
	})
	if reason != "" {
		return "", &ViolationError{Code: code, Reason: reason}
	}

	fn := file.Decls[len(file.Decls)-1].(*ast.FuncDecl)
	var edits []edit
	for _, st := range fn.Body.List {
		e, err := topLevelEdits(fset, st)
		if err != nil {
			return "", &ViolationError{Code: code, Reason: err.Error()}
		}
		edits = append(edits, e...)
	}
	return applyEdits(code, edits), nil
}

// fileKeyword returns "import" or "package" if code uses either keyword. It
// scans tokens, so the words inside strings and comments do not count.
func fileKeyword(code string) string {
	var s scanner.Scanner
	fset := token.NewFileSet()
	s.Init(fset.AddFile("snippet.go", -1, len(code)), []byte(code), nil, 0)
	for {
		_, tok, _ := s.Scan()
		switch tok {
		case token.EOF:
			return ""
		case token.IMPORT, token.PACKAGE:
			return tok.String()
		}
	}
}

// edit replaces code[off:end] with text.
type edit struct {
	off, end int
	text     string
}

// topLevelEdits checks one top-level statement. df and result are declared by
// the wrapper, so redeclaring df is refused, "result := x" becomes
// "result = x" and "result, err := f()" routes result through a fresh
// temporary.
func topLevelEdits(fset *token.FileSet, st ast.Stmt) ([]edit, error) {
	offset := func(p token.Pos) int { return fset.Position(p).Offset - len(checkPrefix) }
	switch x := st.(type) {
	case *ast.DeclStmt:
		if gd, ok := x.Decl.(*ast.GenDecl); ok {
			for _, sp := range gd.Specs {
				vs, ok := sp.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for _, n := range vs.Names {
					if err := redeclared(n.Name); err != nil {
						return nil, err
					}
				}
			}
		}
	case *ast.AssignStmt:
		if x.Tok != token.DEFINE {
			return nil, nil
		}
		var res *ast.Ident
		for _, l := range x.Lhs {
			id, ok := l.(*ast.Ident)
			if !ok {
				continue
			}
			switch id.Name {
			case "df":
				return nil, redeclared("df")
			case "result":
				res = id
			}
		}
		if res == nil {
			return nil, nil
		}
		if len(x.Lhs) == 1 {
			off := offset(x.TokPos)
			return []edit{{off: off, end: off + 2, text: "= "}}, nil
		}
		tmp := resultTemp + strconv.Itoa(offset(res.Pos()))
		off := offset(res.Pos())
		end := offset(x.End())
		return []edit{
			{off: off, end: off + len(res.Name), text: tmp},
			{off: end, end: end, text: "; result = " + tmp},
		}, nil
	}
	return nil, nil
}

func redeclared(name string) error {
	switch name {
	case "df":
		return errors.New("df is already bound to the dataset; assign a derived frame to a new name, e.g. top := df.Head(10)")
	case "result":
		return errors.New("result is already declared; assign to it with result = ...")
	}
	return nil
}

func applyEdits(code string, edits []edit) string {
	if len(edits) == 0 {
		return code
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].off < edits[j].off })
	var b strings.Builder
	last := 0
	for _, e := range edits {
		if e.off < last || e.end > len(code) {
			continue
		}
		b.WriteString(code[last:e.off])
		b.WriteString(e.text)
		last = e.end
	}
	b.WriteString(code[last:])
	return b.String()
}

func syntaxError(err error) error {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		e := list[0]
		line := e.Pos.Line - checkPrefixLines
		if line < 1 {
			line = 1
		}
		return fmt.Errorf("syntax error at line %d: %s", line, e.Msg)
	}
	return fmt.Errorf("syntax error: %w", err)
}

// cleanInterpError rewrites "file:line:col: msg" positions to snippet lines.
func cleanInterpError(msg string) string {
	m := posRe.FindStringSubmatchIndex(msg)
	if m == nil {
		return msg
	}
	line, err := strconv.Atoi(msg[m[2]:m[3]])
	rest := msg[m[1]:]
	if err != nil {
		return rest
	}
	if line -= wrapHeaderLines; line < 1 {
		return rest
	}
	return fmt.Sprintf("line %d: %s", line, rest)
}
