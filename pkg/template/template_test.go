package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	segs := Parse("run {{PORT}} in {{ DIR }} and {{}} {{A1}}")
	var ph []string
	for _, s := range segs {
		if s.IsPlaceholder() {
			ph = append(ph, s.Placeholder)
		}
	}
	assert.Equal(t, []string{"PORT", "A1"}, ph)
	assert.Equal(t, "run ", segs[0].Literal)

	assert.Equal(t, []Segment{{Literal: "no placeholders"}}, Parse("no placeholders"))
	assert.Equal(t, []Segment{{Literal: "open {{X"}}, Parse("open {{X"))
	assert.Empty(t, Parse(""))
}

func demo() Template {
	def := "8080"
	return Template{
		ID:         "demo",
		Command:    "{{BIN}}",
		Args:       []string{"--port", "{{PORT}}", "--mode={{MODE}}"},
		Env:        map[string]string{"APP_PORT": "{{PORT}}"},
		DefaultCwd: "/srv/{{BIN}}",
		Variables: []Variable{
			{Name: "BIN", Type: VarString, Required: true},
			{Name: "PORT", Type: VarNumber, Default: &def, Validation: &Validation{Min: i64Ptr(1024), Max: i64Ptr(65535)}},
			{Name: "MODE", Type: VarEnum, Options: []string{"dev", "prod"}},
		},
		DefaultAutoStart: true,
		Tags:             []string{"x"},
	}
}

func TestInstantiate(t *testing.T) {
	tpl := demo()
	require.NoError(t, tpl.Validate())

	inst, err := tpl.Instantiate("p1", map[string]string{"BIN": "app", "MODE": "prod"})
	require.NoError(t, err)
	assert.Equal(t, "p1", inst.ProcessID)
	assert.Equal(t, "app", inst.Command)
	assert.Equal(t, []string{"--port", "8080", "--mode=prod"}, inst.Args)
	assert.Equal(t, map[string]string{"APP_PORT": "8080"}, inst.Env)
	assert.Equal(t, "/srv/app", inst.Cwd)
	assert.True(t, inst.AutoStart)
	assert.Equal(t, []string{"x"}, inst.Tags)

	// source template is not modified
	assert.Equal(t, "{{BIN}}", tpl.Command)
}

func TestInstantiateErrors(t *testing.T) {
	tpl := demo()

	_, err := tpl.Instantiate("p", map[string]string{"MODE": "dev"})
	var ve *VariableError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "BIN", ve.Name)

	_, err = tpl.Instantiate("p", map[string]string{"BIN": "a", "PORT": "80", "MODE": "dev"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "PORT", ve.Name)

	_, err = tpl.Instantiate("p", map[string]string{"BIN": "a", "MODE": "staging"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "MODE", ve.Name)

	// MODE has no default and is not required: leaving it out is a placeholder error
	_, err = tpl.Instantiate("p", map[string]string{"BIN": "a"})
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
	var pe *PlaceholderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "MODE", pe.Name)
}

func TestUndeclaredPlaceholderUsesValues(t *testing.T) {
	tpl := Template{ID: "t", Command: "echo", Args: []string{"{{MSG}}"}}
	inst, err := tpl.Instantiate("p", map[string]string{"MSG": "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, inst.Args)

	_, err = tpl.Instantiate("p", nil)
	assert.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}

func TestValidateDefinition(t *testing.T) {
	assert.Error(t, Template{Command: "x"}.Validate())
	assert.Error(t, Template{ID: "x"}.Validate())
	assert.Error(t, Template{ID: "x", Command: "x", Variables: []Variable{{Name: "bad name"}}}.Validate())
	assert.Error(t, Template{ID: "x", Command: "x", Variables: []Variable{{Name: "A"}, {Name: "A"}}}.Validate())
	assert.Error(t, Template{ID: "x", Command: "x", Variables: []Variable{{Name: "A", Type: VarEnum}}}.Validate())
	bad := "abc"
	assert.Error(t, Template{ID: "x", Command: "x", Variables: []Variable{{Name: "A", Type: VarNumber, Default: &bad}}}.Validate())
}

func TestVariableCheck(t *testing.T) {
	v := Variable{Name: "P", Type: VarPath, Validation: &Validation{Pattern: `^/`, ErrorMessage: "must be absolute"}}
	assert.NoError(t, v.Check("/tmp"))
	err := v.Check("tmp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be absolute")

	b := Variable{Name: "B", Type: VarBoolean}
	assert.NoError(t, b.Check("true"))
	assert.Error(t, b.Check("yes please"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"BIN", "PORT", "MODE"}, demo().Placeholders())
}

func TestStoreCRUD(t *testing.T) {
	s := NewStore()
	created, err := s.Create(demo())
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, "demo", created.Name)

	_, err = s.Create(demo())
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.Get("demo")
	require.NoError(t, err)
	got.Args[0] = "mutated"
	again, _ := s.Get("demo")
	assert.Equal(t, "--port", again.Args[0])

	upd := demo()
	upd.Description = "changed"
	updated, err := s.Update(upd)
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Description)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = s.Update(Template{ID: "missing", Command: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Create(Template{ID: "a", Command: "true"})
	require.NoError(t, err)
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	require.NoError(t, s.Delete("demo"))
	assert.ErrorIs(t, s.Delete("demo"), ErrNotFound)
	_, err = s.Get("demo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, s.Len())
}

func TestStoreSearch(t *testing.T) {
	s := NewStore()
	for _, tpl := range NewGenerator().Builtins() {
		_, err := s.Create(tpl)
		require.NoError(t, err)
	}
	ids := func(ts []Template) []string {
		out := []string{}
		for _, tpl := range ts {
			out = append(out, tpl.ID)
		}
		return out
	}

	assert.Len(t, s.Search("", nil), s.Len())
	assert.Equal(t, []string{"nodejs-dev", "python-venv", "web"}, ids(s.Search("development", nil)))
	assert.Equal(t, []string{"api", "worker"}, ids(s.Search("Service", nil)))
	assert.Equal(t, []string{"nodejs-dev", "python-venv"}, ids(s.Search("", []string{"development"})))
	assert.Equal(t, []string{"python-venv"}, ids(s.Search("development", []string{"development", "python"})))
	assert.Empty(t, s.Search("monitoring", []string{"python"}))
	assert.Empty(t, s.Search("games", nil))
}

func TestGenerator(t *testing.T) {
	g := NewGenerator()
	for _, typ := range g.GetSupportedTypes() {
		tpl, err := g.Generate(TemplateType(typ), "")
		require.NoError(t, err, typ)
		assert.Equal(t, typ, tpl.ID)
		require.NoError(t, tpl.Validate(), typ)
	}

	tpl, err := g.Generate(TypeNodeDev, "my-node")
	require.NoError(t, err)
	assert.Equal(t, "my-node", tpl.ID)
	inst, err := tpl.Instantiate("web1", map[string]string{"PROJECT_PATH": "/srv/app"})
	require.NoError(t, err)
	assert.Equal(t, "npm", inst.Command)
	assert.Equal(t, "3000", inst.Env["PORT"])
	assert.Equal(t, "/srv/app", inst.Cwd)

	_, err = g.Generate("bogus", "")
	assert.Error(t, err)

	assert.Len(t, g.Builtins(), len(g.GetSupportedTypes()))
}
