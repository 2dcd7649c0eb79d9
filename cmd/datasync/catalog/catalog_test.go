package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/datasync/cmd/datasync/models"
)

const sampleCatalog = `
prefix = "ri.main.dataset."

[datasets]
"Alpha" = "alpha-id"
"Beta Sales" = "beta-id"
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datasets.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ri.main.dataset.", c.Prefix())
	assert.Equal(t, []string{"Alpha", "Beta Sales"}, c.Names())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Parse("prefix = ")
	assert.Error(t, err)

	_, err = Parse("[datasets]\n\"Empty\" = \"\"\n")
	assert.Error(t, err)
}

func TestResolve_PartialAndDuplicates(t *testing.T) {
	c, err := Parse(sampleCatalog)
	require.NoError(t, err)

	ids, missing := c.Resolve([]string{"Alpha", "Gamma", "Alpha", " ", "Beta Sales"})
	assert.Equal(t, []models.Identity{
		{Name: "Alpha", ExternalID: "alpha-id"},
		{Name: "Beta Sales", ExternalID: "beta-id"},
	}, ids)
	assert.Equal(t, []string{"Gamma"}, missing)

	ids, missing = c.Resolve([]string{"Nope"})
	assert.Empty(t, ids)
	assert.Equal(t, []string{"Nope"}, missing)
}

func TestAdd(t *testing.T) {
	c := New("")
	c.Add("Alpha", "alpha-id")

	ids, missing := c.Resolve([]string{"Alpha"})
	require.Len(t, ids, 1)
	assert.Empty(t, missing)
	assert.Equal(t, "alpha-id", ids[0].ExternalID)
}
