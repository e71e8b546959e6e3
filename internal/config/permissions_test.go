package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/msgflux/internal/fieldpath"
	"github.com/stupiduntilnot/msgflux/internal/permission"
)

func mustPath(t *testing.T, raw string) fieldpath.Path {
	t.Helper()
	p, err := fieldpath.Parse(raw)
	require.NoError(t, err)
	return p
}

func TestParsePermissions(t *testing.T) {
	t.Setenv("SUMMARY_FIELD", "outputs.summary")
	guard, err := ParsePermissions([]byte(`
defaults: {read: ["*"], write: [context]}
modules:
  summarizer:
    read: [text, context]
    write: ["${SUMMARY_FIELD}"]
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"summarizer"}, guard.Modules())
	assert.True(t, guard.Allowed("summarizer", mustPath(t, "outputs.summary"), permission.Write))
	assert.False(t, guard.Allowed("summarizer", mustPath(t, "outputs.other"), permission.Write))
	assert.False(t, guard.Allowed("summarizer", mustPath(t, "images"), permission.Read))
	assert.True(t, guard.Allowed("other", mustPath(t, "context.topic"), permission.Write))
	assert.False(t, guard.Allowed("other", mustPath(t, "outputs.summary"), permission.Write))
}

func TestParsePermissions_DefaultsWhenOmitted(t *testing.T) {
	guard, err := ParsePermissions([]byte("modules: {}\n"))
	require.NoError(t, err)
	rule, explicit := guard.RuleFor("anyone")
	assert.False(t, explicit)
	assert.Equal(t, permission.DefaultRule(), rule)

	guard, err = ParsePermissions(nil)
	require.NoError(t, err)
	assert.Empty(t, guard.Modules())
}

func TestParsePermissions_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "module: {}\n",
		"bad yaml":     "modules: [\n",
		"bad prefix":   "modules: {a: {write: [\"outputs..x\"]}}\n",
		"bad defaults": "defaults: {read: [\"\"]}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePermissions([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPermissions_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules:\n  a: {read: [text], write: [outputs.a]}\n"), 0o644))

	guard, err := LoadPermissions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, guard.Modules())

	_, err = LoadPermissions(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}
