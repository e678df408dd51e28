package website

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join("..", "templates.json"))
	require.NoError(t, err)

	templates := catalog.List()
	require.NotEmpty(t, templates)
	for i := 1; i < len(templates); i++ {
		assert.Less(t, templates[i-1].ID, templates[i].ID)
	}

	blank, ok := catalog.Get("blank")
	require.True(t, ok)
	assert.Equal(t, "Blank Page", blank.Name)

	_, ok = catalog.Get("missing")
	assert.False(t, ok)
}

func TestLoadCatalogErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCatalog(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, ioutil.WriteFile(broken, []byte(`{"id": "blank"`), 0644))
	_, err = LoadCatalog(broken)
	assert.Error(t, err)

	duplicated := filepath.Join(dir, "duplicated.json")
	require.NoError(t, ioutil.WriteFile(duplicated, []byte(`[{"id": "a"}, {"id": "a"}]`), 0644))
	_, err = LoadCatalog(duplicated)
	assert.Error(t, err)

	_, err = NewCatalog([]Template{{Name: "No ID"}})
	assert.Error(t, err)
}

func TestCatalogListIsACopy(t *testing.T) {
	catalog := testCatalog(t)
	list := catalog.List()
	list[0].Name = "changed"

	again := catalog.List()
	assert.NotEqual(t, "changed", again[0].Name)
	assert.Equal(t, "blank", again[0].ID)
}
