// Package template defines reusable process blueprints with typed variables
// that are substituted into a concrete process configuration.
package template

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound              = errors.New("template not found")
	ErrAlreadyExists         = errors.New("template already exists")
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
)

// VarType is the declared type of a template variable.
type VarType string

const (
	VarString  VarType = "string"
	VarNumber  VarType = "number"
	VarBoolean VarType = "boolean"
	VarPath    VarType = "path"
	VarEnum    VarType = "enum"
)

// Validation holds optional value constraints. Min and Max apply to numbers,
// Pattern to strings and paths.
type Validation struct {
	Min          *int64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *int64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern      string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	ErrorMessage string `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// Variable declares one placeholder name.
type Variable struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Type        VarType     `json:"type" yaml:"type"`
	Options     []string    `json:"options,omitempty" yaml:"options,omitempty"` // enum values
	Default     *string     `json:"default,omitempty" yaml:"default,omitempty"`
	Required    bool        `json:"required" yaml:"required"`
	Validation  *Validation `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Template is a named process blueprint. Command, Args, Env values and
// DefaultCwd may contain {{NAME}} placeholders.
type Template struct {
	ID               string            `json:"template_id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	Category         string            `json:"category,omitempty" yaml:"category,omitempty"`
	Command          string            `json:"command" yaml:"command"`
	Args             []string          `json:"args" yaml:"args"`
	Env              map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	DefaultCwd       string            `json:"default_cwd,omitempty" yaml:"default_cwd,omitempty"`
	DefaultAutoStart bool              `json:"default_auto_start" yaml:"default_auto_start"`
	Variables        []Variable        `json:"variables,omitempty" yaml:"variables,omitempty"`
	Tags             []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	CreatedAt        time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy.
func (t Template) Clone() Template {
	t.Args = slices.Clone(t.Args)
	t.Env = maps.Clone(t.Env)
	t.Tags = slices.Clone(t.Tags)
	vars := make([]Variable, len(t.Variables))
	for i, v := range t.Variables {
		v.Options = slices.Clone(v.Options)
		if v.Default != nil {
			d := *v.Default
			v.Default = &d
		}
		if v.Validation != nil {
			val := *v.Validation
			v.Validation = &val
		}
		vars[i] = v
	}
	if t.Variables == nil {
		vars = nil
	}
	t.Variables = vars
	return t
}

var varName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VariableError reports an invalid variable declaration or value.
type VariableError struct {
	Name   string
	Reason string
}

func (e *VariableError) Error() string {
	return fmt.Sprintf("variable %q: %s", e.Name, e.Reason)
}

// PlaceholderError names a placeholder with no value and no default.
type PlaceholderError struct {
	Name string
}

func (e *PlaceholderError) Error() string {
	return fmt.Sprintf("unresolved placeholder {{%s}}", e.Name)
}

func (e *PlaceholderError) Is(target error) bool { return target == ErrUnresolvedPlaceholder }

// Validate checks the template definition itself.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("template id is required")
	}
	if strings.TrimSpace(t.Command) == "" {
		return errors.New("template command is required")
	}
	seen := map[string]bool{}
	for _, v := range t.Variables {
		if !varName.MatchString(v.Name) {
			return &VariableError{Name: v.Name, Reason: "invalid name"}
		}
		if seen[v.Name] {
			return &VariableError{Name: v.Name, Reason: "declared twice"}
		}
		seen[v.Name] = true
		switch v.Type {
		case "", VarString, VarNumber, VarBoolean, VarPath:
		case VarEnum:
			if len(v.Options) == 0 {
				return &VariableError{Name: v.Name, Reason: "enum without options"}
			}
		default:
			return &VariableError{Name: v.Name, Reason: fmt.Sprintf("unknown type %q", v.Type)}
		}
		if val := v.Validation; val != nil {
			if val.Pattern != "" {
				if _, err := regexp.Compile(val.Pattern); err != nil {
					return &VariableError{Name: v.Name, Reason: "invalid pattern: " + err.Error()}
				}
			}
			if val.Min != nil && val.Max != nil && *val.Min > *val.Max {
				return &VariableError{Name: v.Name, Reason: "min greater than max"}
			}
		}
		if v.Default != nil {
			if err := v.Check(*v.Default); err != nil {
				return err
			}
		}
	}
	return nil
}

// Check validates value against the variable's type and constraints.
func (v Variable) Check(value string) error {
	fail := func(reason string) error {
		if v.Validation != nil && v.Validation.ErrorMessage != "" {
			reason = v.Validation.ErrorMessage
		}
		return &VariableError{Name: v.Name, Reason: reason}
	}
	switch v.Type {
	case VarNumber:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return &VariableError{Name: v.Name, Reason: "must be a number"}
		}
		if val := v.Validation; val != nil {
			if val.Min != nil && n < *val.Min {
				return fail(fmt.Sprintf("must be >= %d", *val.Min))
			}
			if val.Max != nil && n > *val.Max {
				return fail(fmt.Sprintf("must be <= %d", *val.Max))
			}
		}
	case VarBoolean:
		if _, err := strconv.ParseBool(value); err != nil {
			return &VariableError{Name: v.Name, Reason: "must be a boolean"}
		}
	case VarEnum:
		if !slices.Contains(v.Options, value) {
			return &VariableError{Name: v.Name, Reason: fmt.Sprintf("must be one of %v", v.Options)}
		}
	default:
		if val := v.Validation; val != nil && val.Pattern != "" {
			re, err := regexp.Compile(val.Pattern)
			if err != nil {
				return &VariableError{Name: v.Name, Reason: "invalid pattern: " + err.Error()}
			}
			if !re.MatchString(value) {
				return fail("does not match pattern")
			}
		}
	}
	return nil
}

// Segment is one piece of a parsed template string: literal text or a
// placeholder name.
type Segment struct {
	Literal     string
	Placeholder string
}

func (s Segment) IsPlaceholder() bool { return s.Placeholder != "" }

// Parse splits s into literal and {{NAME}} placeholder segments. Braces that
// do not enclose a valid name stay literal.
func Parse(s string) []Segment {
	var out []Segment
	var lit strings.Builder
	for {
		i := strings.Index(s, "{{")
		if i < 0 {
			lit.WriteString(s)
			break
		}
		j := strings.Index(s[i+2:], "}}")
		if j < 0 {
			lit.WriteString(s)
			break
		}
		name := s[i+2 : i+2+j]
		if !varName.MatchString(name) {
			lit.WriteString(s[:i+2])
			s = s[i+2:]
			continue
		}
		lit.WriteString(s[:i])
		if lit.Len() > 0 {
			out = append(out, Segment{Literal: lit.String()})
			lit.Reset()
		}
		out = append(out, Segment{Placeholder: name})
		s = s[i+2+j+2:]
	}
	if lit.Len() > 0 {
		out = append(out, Segment{Literal: lit.String()})
	}
	return out
}

// Placeholders returns the distinct placeholder names used anywhere in t, in
// order of first appearance.
func (t Template) Placeholders() []string {
	var names []string
	add := func(s string) {
		for _, seg := range Parse(s) {
			if seg.IsPlaceholder() && !slices.Contains(names, seg.Placeholder) {
				names = append(names, seg.Placeholder)
			}
		}
	}
	add(t.Command)
	for _, a := range t.Args {
		add(a)
	}
	for _, k := range slices.Sorted(maps.Keys(t.Env)) {
		add(t.Env[k])
	}
	add(t.DefaultCwd)
	return names
}

// Instance is the concrete configuration produced by Instantiate.
type Instance struct {
	ProcessID string
	Name      string
	Command   string
	Args      []string
	Env       map[string]string
	Cwd       string
	AutoStart bool
	Tags      []string
}

// Instantiate validates values against the declared variables and substitutes
// every placeholder. A placeholder resolves to values[name], else to the
// variable's default; otherwise a *PlaceholderError is returned.
func (t Template) Instantiate(processID string, values map[string]string) (Instance, error) {
	decl := make(map[string]Variable, len(t.Variables))
	for _, v := range t.Variables {
		decl[v.Name] = v
		val, ok := values[v.Name]
		if !ok && v.Default == nil && v.Required {
			return Instance{}, &VariableError{Name: v.Name, Reason: "required variable is missing"}
		}
		if ok {
			if err := v.Check(val); err != nil {
				return Instance{}, err
			}
		}
	}
	resolve := func(name string) (string, bool) {
		if v, ok := values[name]; ok {
			return v, true
		}
		if d, ok := decl[name]; ok && d.Default != nil {
			return *d.Default, true
		}
		return "", false
	}
	sub := func(s string) (string, error) {
		var b strings.Builder
		for _, seg := range Parse(s) {
			if !seg.IsPlaceholder() {
				b.WriteString(seg.Literal)
				continue
			}
			v, ok := resolve(seg.Placeholder)
			if !ok {
				return "", &PlaceholderError{Name: seg.Placeholder}
			}
			b.WriteString(v)
		}
		return b.String(), nil
	}

	inst := Instance{
		ProcessID: processID,
		Name:      processID,
		AutoStart: t.DefaultAutoStart,
		Tags:      slices.Clone(t.Tags),
		Args:      make([]string, 0, len(t.Args)),
	}
	var err error
	if inst.Command, err = sub(t.Command); err != nil {
		return Instance{}, err
	}
	for _, a := range t.Args {
		s, err := sub(a)
		if err != nil {
			return Instance{}, err
		}
		inst.Args = append(inst.Args, s)
	}
	if len(t.Env) > 0 {
		inst.Env = make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			s, err := sub(v)
			if err != nil {
				return Instance{}, err
			}
			inst.Env[k] = s
		}
	}
	if inst.Cwd, err = sub(t.DefaultCwd); err != nil {
		return Instance{}, err
	}
	return inst, nil
}
