package yoloprep

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestClassRegistry(t *testing.T) {
	r := NewClassRegistry([]string{"dog", "cat", "dog", "bird", "cat"})
	require.Equal(t, []string{"bird", "cat", "dog"}, r.Names())
	require.Equal(t, 3, r.Len())

	for i, l := range []string{"bird", "cat", "dog"} {
		idx, ok := r.Index(l)
		require.True(t, ok)
		require.Equal(t, i, idx)
	}
	_, ok := r.Index("horse")
	require.False(t, ok)

	// Names returns a copy.
	names := r.Names()
	names[0] = "changed"
	require.Equal(t, "bird", r.Names()[0])
}

func TestClassRegistryOrderIndependent(t *testing.T) {
	labels := []string{"truck", "car", "person", "bicycle", "car", "Zebra", "apple"}
	want := NewClassRegistry(labels).Names()
	require.Equal(t, []string{"Zebra", "apple", "bicycle", "car", "person", "truck"}, want)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]string(nil), labels...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, want, NewClassRegistry(shuffled).Names())
	}
}

func TestDiscoverClasses(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/ds/jsons/a.json", labelMeJSON(100, 100,
		testShape{label: "dog", kind: "polygon", points: [][2]float64{{1, 1}, {2, 2}, {3, 1}}}))
	writeFile(t, fs, "/ds/jsons/b.json", labelMeJSON(100, 100,
		testShape{label: "cat", kind: "rectangle", points: [][2]float64{{1, 1}, {2, 2}}},
		testShape{label: "dog", kind: "rectangle", points: [][2]float64{{1, 1}, {2, 2}}}))
	writeFile(t, fs, "/ds/jsons/nosize.json", `{"shapes": [{"label": "bird", "points": [[1, 2]]}]}`)
	writeFile(t, fs, "/ds/jsons/notes.txt", "ignored")

	// Files missing fields needed only for conversion still contribute their labels.
	registry, files, err := DiscoverClasses(fs, "/ds", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"bird", "cat", "dog"}, registry.Names())
	require.Equal(t, []string{"/ds/jsons/a.json", "/ds/jsons/b.json", "/ds/jsons/nosize.json"}, files)
}

func TestDiscoverClassesUnreadableFile(t *testing.T) {
	for name, content := range map[string]string{
		"broken":   "{not json",
		"no-label": `{"imageWidth": 10, "imageHeight": 10, "shapes": [{"points": [[1, 2]]}]}`,
		"empty":    `{"imageWidth": 10, "imageHeight": 10, "shapes": [{"label": "", "points": []}]}`,
	} {
		fs := afero.NewMemMapFs()
		writeFile(t, fs, "/ds/jsons/a.json", labelMeJSON(100, 100,
			testShape{label: "dog", points: [][2]float64{{1, 1}, {2, 2}, {3, 1}}}))
		writeFile(t, fs, "/ds/jsons/bad.json", content)

		_, _, err := DiscoverClasses(fs, "/ds", nil, nil)
		require.Error(t, err, name)
		require.Contains(t, err.Error(), "/ds/jsons/bad.json", name)
	}
}

func TestDiscoverClassesMappingAndKeep(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/ds/jsons/a.json", labelMeJSON(100, 100,
		testShape{label: "car_red", points: [][2]float64{{1, 1}, {2, 2}, {3, 1}}},
		testShape{label: "person", points: [][2]float64{{1, 1}, {2, 2}, {3, 1}}},
		testShape{label: "tree", points: [][2]float64{{1, 1}, {2, 2}, {3, 1}}}))

	mappings, err := ParseLabelMappings([]string{"_red="})
	require.NoError(t, err)
	registry, _, err := DiscoverClasses(fs, "/ds", mappings, []string{"car", "person"})
	require.NoError(t, err)
	require.Equal(t, []string{"car", "person"}, registry.Names())
}

func TestDiscoverClassesErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, _, err := DiscoverClasses(fs, "/ds", nil, nil)
	require.True(t, errors.Is(err, ErrNotFound), "%v", err)
	require.Contains(t, err.Error(), "/ds")

	require.NoError(t, fs.MkdirAll("/ds/jsons", 0755))
	_, _, err = DiscoverClasses(fs, "/ds", nil, nil)
	require.True(t, errors.Is(err, ErrEmptyCorpus), "%v", err)
	require.Contains(t, err.Error(), "/ds/jsons")

	writeFile(t, fs, "/ds/jsons/a.json", labelMeJSON(100, 100))
	writeFile(t, fs, "/ds/jsons/b.json", `{"imageHeight": 1, "imageWidth": 1}`)
	_, _, err = DiscoverClasses(fs, "/ds", nil, nil)
	require.True(t, errors.Is(err, ErrNoLabelsFound), "%v", err)

	// All labels filtered out.
	writeFile(t, fs, "/ds/jsons/c.json", labelMeJSON(100, 100,
		testShape{label: "cat", points: [][2]float64{{1, 1}, {2, 2}, {3, 1}}}))
	_, _, err = DiscoverClasses(fs, "/ds", nil, []string{"dog"})
	require.True(t, errors.Is(err, ErrNoLabelsFound), "%v", err)
}

func TestParseLabelMappings(t *testing.T) {
	m, err := ParseLabelMappings([]string{"_x=_y", "", "car=vehicle"})
	require.NoError(t, err)
	require.Equal(t, []LabelMapping{{"_x", "_y"}, {"car", "vehicle"}}, m)
	require.Equal(t, "vehicle_y", mapLabel("car_x", m))

	_, err = ParseLabelMappings([]string{"a=b=c"})
	require.Error(t, err)
	_, err = ParseLabelMappings([]string{"nomapping"})
	require.Error(t, err)
}
