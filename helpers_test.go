package yoloprep

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// writeFile writes content to path in fs, creating the parent directories.
func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

// testShape is a shape for labelMeJSON. An empty kind leaves out shape_type.
type testShape struct {
	label  string
	kind   string
	points [][2]float64
}

// labelMeJSON returns a LabelMe document for an image of size w x h.
func labelMeJSON(w, h int, shapes ...testShape) string {
	parts := make([]string, len(shapes))
	for i, s := range shapes {
		pts := make([]string, len(s.points))
		for j, p := range s.points {
			pts[j] = fmt.Sprintf("[%v, %v]", p[0], p[1])
		}
		kind := ""
		if s.kind != "" {
			kind = fmt.Sprintf(`, "shape_type": %q`, s.kind)
		}
		parts[i] = fmt.Sprintf(`{"label": %q, "points": [%s]%s, "group_id": null, "flags": {}}`,
			s.label, strings.Join(pts, ", "), kind)
	}
	return fmt.Sprintf(`{"version": "5.2.1", "flags": {}, "shapes": [%s], "imagePath": "x.jpg",`+
		` "imageData": null, "imageHeight": %d, "imageWidth": %d}`, strings.Join(parts, ", "), h, w)
}

// identityShuffler keeps the order.
type identityShuffler struct{}

func (identityShuffler) Shuffle(n int, swap func(i, j int)) {}

// reverseShuffler reverses the order.
type reverseShuffler struct{}

func (reverseShuffler) Shuffle(n int, swap func(i, j int)) {
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		swap(i, j)
	}
}
