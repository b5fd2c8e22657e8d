package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeOrderAndExpansion(t *testing.T) {
	e := New().WithBase(Var{"HOME": "/home/u", "KEEP": "1"})
	e.Set("DATA", "${HOME}/data")
	e.Set("KEEP", "2")

	out := e.Merge(map[string]string{"KEEP": "3", "LIT": "${HOME}"})
	assert.Equal(t, []string{
		"DATA=/home/u/data",
		"HOME=/home/u",
		"KEEP=3",
		"LIT=${HOME}",
	}, out)
}

func TestMergeSkipsEmptyKeys(t *testing.T) {
	e := New().WithBase(nil)
	e.SetPairs([]string{"=x", "A=1", "broken"})
	out := e.Merge(map[string]string{"": "y"})
	assert.Equal(t, []string{"A=1"}, out)
}

func TestUnset(t *testing.T) {
	e := New().WithBase(nil)
	e.Set("A", "1")
	e.Unset("A")
	assert.Empty(t, e.Merge(nil))
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "app.env")
	content := strings.Join([]string{
		"# comment",
		"",
		"A=1",
		"export B = two ",
		`C="quoted value"`,
		"D='x'",
	}, "\n")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))

	m, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, Var{"A": "1", "B": "two", "C": "quoted value", "D": "x"}, m)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(p, []byte("NOEQUALS\n"), 0o600))
	_, err = LoadFile(p)
	assert.ErrorContains(t, err, "missing '='")
}
