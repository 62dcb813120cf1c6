package coalesce

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// rulesSchema constrains a rules document. Steps are closed, so unknown
// options are rejected with a position.
const rulesSchema = `
#Step: {op: "parse_json", field?: string} |
	{op: "index_by", list?: string, key: string} |
	{op: "bucket", list?: string, by: string, order?: [...string]} |
	{op: "stamp_id", field?: string}

delimiter?: string
exact?: [string]: [...#Step]
prefix?: [string]: [...#Step]
`

// DefaultStampField is where stamp_id writes when no field is given.
const DefaultStampField = "reportedId"

// RuleError reports an invalid rules document.
type RuleError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *RuleError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadRulesFile reads and compiles a CUE rules file.
func LoadRulesFile(path string) (*Registry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return LoadRules(src, path)
}

// LoadRules compiles a CUE rules document into a Registry:
//
//	delimiter: ":"
//	exact: {
//		CASTLE_TOOLS_UPDATE: [{op: "parse_json"}]
//		SCENE_CARDS: [{op: "index_by", list: "cards", key: "cardId"}]
//	}
//	prefix: {
//		INSPECTOR: [{op: "parse_json", field: "data"}, {op: "stamp_id"}]
//	}
//
// Each entry's steps run in order.
func LoadRules(src []byte, filename string) (*Registry, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(rulesSchema, cue.Filename("rules-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile rules schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var opts []Option
	if d := unified.LookupPath(cue.ParsePath("delimiter")); d.Exists() {
		delim, err := d.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		opts = append(opts, WithDelimiter(delim))
	}
	reg := NewRegistry(opts...)

	if err := compileSection(unified, "exact", reg.Register); err != nil {
		return nil, err
	}
	if err := compileSection(unified, "prefix", reg.RegisterPrefix); err != nil {
		return nil, err
	}
	return reg, nil
}

func compileSection(root cue.Value, section string, register func(string, Func)) error {
	sv := root.LookupPath(cue.ParsePath(section))
	if !sv.Exists() {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		name := labelOf(iter)
		fn, err := compileSteps(iter.Value(), section+"."+name)
		if err != nil {
			return err
		}
		register(name, fn)
	}
	return nil
}

func compileSteps(v cue.Value, field string) (Func, error) {
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var fns []Func
	for i := 0; list.Next(); i++ {
		fn, err := compileStep(list.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	if len(fns) == 0 {
		return nil, &RuleError{Field: field, Message: "at least one step is required", Pos: v.Pos()}
	}
	if len(fns) == 1 {
		return fns[0], nil
	}
	return Chain(fns...), nil
}

func compileStep(v cue.Value, field string) (Func, error) {
	op, err := stringAt(v, "op", "")
	if err != nil {
		return nil, err
	}
	switch op {
	case "parse_json":
		f, err := stringAt(v, "field", "")
		if err != nil {
			return nil, err
		}
		return ParseJSON(f), nil
	case "index_by":
		list, err := stringAt(v, "list", "")
		if err != nil {
			return nil, err
		}
		key, err := stringAt(v, "key", "")
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, &RuleError{Field: field + ".key", Message: "key must not be empty", Pos: v.Pos()}
		}
		return IndexBy(list, key), nil
	case "bucket":
		list, err := stringAt(v, "list", "")
		if err != nil {
			return nil, err
		}
		by, err := stringAt(v, "by", "")
		if err != nil {
			return nil, err
		}
		if by == "" {
			return nil, &RuleError{Field: field + ".by", Message: "by must not be empty", Pos: v.Pos()}
		}
		order, err := stringsAt(v, "order")
		if err != nil {
			return nil, err
		}
		return Bucket(list, by, order), nil
	case "stamp_id":
		f, err := stringAt(v, "field", DefaultStampField)
		if err != nil {
			return nil, err
		}
		return StampReportedID(f), nil
	default:
		return nil, &RuleError{Field: field + ".op", Message: fmt.Sprintf("unknown op %q", op), Pos: v.Pos()}
	}
}

func stringAt(v cue.Value, path, def string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return def, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func stringsAt(v cue.Value, path string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// labelOf returns a field label without quotes, so event names containing
// the delimiter can be written as quoted labels.
func labelOf(iter *cue.Iterator) string {
	sel := iter.Selector()
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &RuleError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
