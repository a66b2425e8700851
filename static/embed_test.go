package static

import (
	"html/template"
	"io/fs"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedTemplatesExist(t *testing.T) {
	expected := []string{
		"templates/index.html",
	}

	var got []string
	err := fs.WalkDir(FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		got = append(got, path)
		return nil
	})
	require.NoError(t, err)
	sort.Strings(got)
	require.Equal(t, expected, got)
}

func TestTemplatesParse(t *testing.T) {
	_, err := template.ParseFS(FS, "templates/*.html")
	require.NoError(t, err)
}
