package weft_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlade/weft"
)

type decodedVariable struct {
	ID       int    `json:"id"`
	ParentID *int   `json:"parent_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type decodedCell struct {
	Src    int                `json:"src"`
	Dest   int                `json:"dest"`
	Values map[string]float64 `json:"values"`
}

func scanFixtureResult(t *testing.T) *weft.Result {
	t.Helper()
	dir := writeFixture(t, map[string]string{"a.go": fixtureWidget, "b.go": fixtureRun})
	engine := newTestEngine(t)
	res, err := engine.Scan(context.Background(), weft.ScanOptions{Root: dir})
	require.NoError(t, err)
	return res
}

func TestWriteDSMV2(t *testing.T) {
	t.Parallel()

	res := scanFixtureResult(t)
	widget := findEntity(t, res, "Widget", "class")
	run := findEntity(t, res, "Run", "function")
	a, b := widget.StableID, run.StableID
	if b < a {
		a, b = b, a
	}
	res.CoChanges = []weft.CoChange{{A: a, B: b, Count: 2}}

	var buf bytes.Buffer
	require.NoError(t, res.WriteDSM(&buf, "demo", weft.FormatJSONV2))

	var out struct {
		Schema    string            `json:"schemaVersion"`
		Name      string            `json:"name"`
		Variables []decodedVariable `json:"variables"`
		Cells     []decodedCell     `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "2.0", out.Schema)
	assert.Equal(t, "demo", out.Name)
	require.Len(t, out.Variables, 4, "two files, two declarations")

	byName := make(map[string]decodedVariable)
	for _, v := range out.Variables {
		byName[v.Name] = v
	}
	require.Contains(t, byName, "Widget")
	require.Contains(t, byName, "Run")
	require.Contains(t, byName, "a.go")
	assert.Equal(t, "class", byName["Widget"].Kind)
	require.NotNil(t, byName["Widget"].ParentID, "declarations hang off their file variable")
	assert.Equal(t, "file", out.Variables[*byName["Widget"].ParentID].Kind)
	assert.Nil(t, byName["a.go"].ParentID, "file variables are roots")

	values := func(src, dest int) map[string]float64 {
		for _, c := range out.Cells {
			if c.Src == src && c.Dest == dest {
				return c.Values
			}
		}
		return nil
	}
	use := values(byName["Run"].ID, byName["Widget"].ID)
	require.NotNil(t, use)
	assert.Equal(t, 1.0, use["Use"])
	assert.Equal(t, 2.0, use["Cochange"])
	back := values(byName["Widget"].ID, byName["Run"].ID)
	require.NotNil(t, back, "co-change fills both triangles")
	assert.Equal(t, 2.0, back["Cochange"])
	assert.Zero(t, back["Use"], "the dependency itself is directed")
}

func TestWriteDSMV1FileGranularity(t *testing.T) {
	t.Parallel()

	res := scanFixtureResult(t)
	var buf bytes.Buffer
	require.NoError(t, res.WriteDSM(&buf, "demo", weft.FormatJSONV1))

	var out struct {
		Schema    string        `json:"schemaVersion"`
		Variables []string      `json:"variables"`
		Cells     []decodedCell `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "1.0", out.Schema)
	assert.Equal(t, []string{"a.go", "b.go"}, out.Variables, "v1 variables are the filenames, sorted")

	require.Len(t, out.Cells, 1, "one file-level dependency, one cell")
	assert.Equal(t, 1, out.Cells[0].Src, "b.go depends on a.go")
	assert.Equal(t, 0, out.Cells[0].Dest)
	assert.Equal(t, 1.0, out.Cells[0].Values["Use"])
}

func TestWriteDSMUnknownFormat(t *testing.T) {
	t.Parallel()

	res := &weft.Result{}
	var buf bytes.Buffer
	err := res.WriteDSM(&buf, "demo", "xml")
	assert.ErrorContains(t, err, "unknown format")
}
