package langs_test

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlade/weft/internal/langs"
	"github.com/mlade/weft/rules"
)

func TestLoadBuiltinDefinitions(t *testing.T) {
	t.Parallel()

	reg, err := langs.Load(rules.FS, nil)
	require.NoError(t, err)

	names := make(map[string]*langs.Language)
	for _, l := range reg.Languages() {
		names[l.Name] = l
	}
	for _, want := range []string{"go", "java"} {
		l, ok := names[want]
		require.True(t, ok, "missing built-in language %s", want)
		require.NoError(t, l.Err, "built-in %s must compile", want)
		assert.NotNil(t, l.Entities)
		assert.NotNil(t, l.Rules)
		assert.NotEmpty(t, l.RulesVersion)
	}
}

func TestLoadRestrictsLanguages(t *testing.T) {
	t.Parallel()

	reg, err := langs.Load(rules.FS, []string{"go"})
	require.NoError(t, err)
	require.Len(t, reg.Languages(), 1)
	assert.Equal(t, "go", reg.Languages()[0].Name)
	assert.Nil(t, reg.ForPath("Main.java"))
}

func TestForPath(t *testing.T) {
	t.Parallel()

	reg, err := langs.Load(rules.FS, nil)
	require.NoError(t, err)

	assert.Equal(t, "go", reg.ForPath("internal/a/b.go").Name)
	assert.Equal(t, "java", reg.ForPath("src/Main.java").Name)
	assert.Nil(t, reg.ForPath("README.md"))
	assert.Nil(t, reg.ForPath("Makefile"))
}

func TestRulesVersionTracksContent(t *testing.T) {
	t.Parallel()

	base, err := rules.FS.ReadFile("go.yaml")
	require.NoError(t, err)

	a, err := langs.Load(fstest.MapFS{"go.yaml": {Data: base}}, nil)
	require.NoError(t, err)
	b, err := langs.Load(fstest.MapFS{"go.yaml": {Data: append(append([]byte(nil), base...), '\n', '#', 'x')}}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.Languages()[0].RulesVersion, b.Languages()[0].RulesVersion,
		"any rule file edit is a new rule-set version")
}

func TestBrokenDefinitionDisablesLanguageOnly(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"bad.yaml": {Data: []byte("language: go\nversion: \"1\"\nextensions: [\".go\"]\nentities:\n  query: \"(no_such_node) @x\"\n")},
	}
	reg, err := langs.Load(fsys, nil)
	require.NoError(t, err, "a broken definition loads, disabled")
	require.Len(t, reg.Languages(), 1)
	assert.Error(t, reg.Languages()[0].Err)
	assert.Empty(t, reg.Pathspecs(), "disabled languages contribute no pathspecs")
}

func TestUnknownGrammar(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"x.yaml": {Data: []byte("language: cobol\nextensions: [\".cob\"]\nentities:\n  query: \"(x) @x\"\n")},
	}
	reg, err := langs.Load(fsys, nil)
	require.NoError(t, err)
	require.Len(t, reg.Languages(), 1)
	assert.ErrorContains(t, reg.Languages()[0].Err, "no grammar")
}
