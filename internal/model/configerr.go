package model

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is one config problem in a form fit for an operator.
type CueErrorDetail struct {
	Path    string // backend_settings.auth_token
	Code    string // unknown_field | missing_required | conflicting_values | invalid_enum | type_mismatch | validation_error
	Message string
	File    string
	Line    int
	Column  int
}

func (d CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", d.Code),
		slog.String("path", d.Path),
		slog.String("message", d.Message),
		slog.String("file", d.File),
		slog.Int("line", d.Line),
		slog.Int("column", d.Column),
	)
}

func (d CueErrorDetail) String() string {
	if d.File == "" {
		return d.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s (%s)", d.File, d.Line, d.Column, d.Message, d.Code)
}

// errorRules are tried in order, the first match names the problem.
var errorRules = []struct {
	re     *regexp.Regexp
	code   string
	format string
}{
	{regexp.MustCompile(`(?i)not allowed|unknown field`), "unknown_field", "Field %s is not allowed"},
	{regexp.MustCompile(`(?i)incomplete value`), "missing_required", "Field %s is required"},
	{regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible|empty disjunction`), "conflicting_values", "Conflicting values for %s"},
	{regexp.MustCompile(`(?i)must be one of|expected one of`), "invalid_enum", "Field %s has invalid value"},
	{regexp.MustCompile(`(?i)expected .* got .*`), "type_mismatch", "Field %s has wrong type/value"},
}

// enumPaths are string disjunctions whose allowed values are listed in errors.
var enumPaths = []string{"engine.kind", "engine.compute_type"}

// CueErrDetails turns a LoadConfig error into human readable details, one per
// offending field. Errors not coming from CUE yield a single detail with the
// raw message.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}
	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		return []CueErrorDetail{{Code: "validation_error", Message: err.Error()}}
	}
	type key struct{ path, code string }
	seen := map[key]bool{}
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		raw, args := e.Msg()
		d := describeCueError(fmt.Sprintf(raw, args...), fieldPath(e.Path()))
		if k := (key{d.Path, d.Code}); !seen[k] {
			seen[k] = true
			d.File, d.Line, d.Column = firstPosition(e)
			out = append(out, d)
		}
	}
	return out
}

func describeCueError(msg, path string) CueErrorDetail {
	d := CueErrorDetail{Path: path, Code: "validation_error", Message: msg}
	for _, r := range errorRules {
		if r.re.MatchString(msg) {
			d.Code, d.Message = r.code, fmt.Sprintf(r.format, lastField(path))
			break
		}
	}
	if slices.Contains(enumPaths, path) {
		d.Message += enumHint(schema.LookupPath(cue.ParsePath(path)))
	}
	return d
}

// enumHint lists the string alternatives of a disjunction and its default.
func enumHint(v cue.Value) string {
	var values []string
	if op, args := v.Expr(); op == cue.OrOp {
		for _, a := range args {
			if s, err := a.String(); err == nil && !slices.Contains(values, s) {
				values = append(values, s)
			}
		}
	}
	if len(values) == 0 {
		return ""
	}
	hint := fmt.Sprintf(": possible values (%s)", strings.Join(values, ","))
	if d, ok := v.Default(); ok {
		if s, err := d.String(); err == nil {
			hint += fmt.Sprintf(" (default %s)", s)
		}
	}
	return hint
}

func firstPosition(e cueerrors.Error) (file string, line, column int) {
	for _, p := range cueerrors.Positions(e) {
		if p.Filename() != "" {
			return p.Filename(), p.Line(), p.Column()
		}
	}
	return "", 0, 0
}

// fieldPath drops the schema definition from a CUE error path.
func fieldPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func lastField(path string) string {
	return path[strings.LastIndexByte(path, '.')+1:]
}
