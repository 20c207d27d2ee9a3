package zones

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/uwb.follow/internal/fsutil"
)

const legacyPositions = `[
    {"name": "desk", "angle": 12.5, "distance": 0.8, "volume": 55},
    {"name": "", "angle": 0, "distance": 1, "volume": 10},
    {"name": "door", "angle": -40, "distance": 3.2, "volume": 90}
]`

func TestLoadFile(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("positions.json", []byte(legacyPositions), 0o644))

	got := LoadFile(fs, "positions.json")
	want := []Zone{
		{Name: "desk", Angle: 12.5, Distance: 0.8, Volume: 55},
		{Name: "door", Angle: -40, Distance: 3.2, Volume: 90},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadFile() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile_MissingOrMalformed(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	assert.Empty(t, LoadFile(fs, "missing.json"))

	require.NoError(t, fs.WriteFile("broken.json", []byte(`{"name":`), 0o644))
	assert.Empty(t, LoadFile(fs, "broken.json"))
}

func TestWriteFile_RoundTripsThroughLoad(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	zs := []Zone{{ID: "x", Name: "A", Angle: 90, Distance: 1, Volume: 70}}
	require.NoError(t, WriteFile(fs, "out.json", zs))

	data, err := fs.ReadFile("out.json")
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"x"`, "ids are not part of the file format")
	assert.Contains(t, string(data), "\n    {")

	got := LoadFile(fs, "out.json")
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Name)
}

func TestMarshal_EmptyIsArray(t *testing.T) {
	data, err := Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestFileRepository_PersistsChanges(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("positions.json", []byte(legacyPositions), 0o644))

	r := NewFileRepository(fs, "positions.json", DefaultTolerance)
	got, _ := r.List()
	require.Len(t, got, 2)

	_, err := r.Add(Zone{Name: "couch", Angle: 30, Distance: 2, Volume: 65})
	require.NoError(t, err)
	require.NoError(t, r.Remove("desk"))

	reloaded := LoadFile(fs, "positions.json")
	names := make([]string, len(reloaded))
	for i, z := range reloaded {
		names[i] = z.Name
	}
	assert.Equal(t, []string{"door", "couch"}, names)
}
