package backup

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(Config{Root: "records", Fs: fs})

	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	path, err := store.Write(Record{
		Type:      "bib",
		Zone:      "NZ",
		ID:        "991170519490005501",
		Timestamp: ts,
		Payload:   []byte("<bib/>"),
		Extension: "xml",
	})
	require.NoError(t, err)
	assert.Equal(t, "records/NZ_991170519490005501/bib991170519490005501_20240315T103000_01.xml", path)

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("<bib/>"), content)
}

func TestWrite_VersionSuffixIncrements(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(Config{Root: "records", Fs: fs})

	rec := Record{
		Type: "user", Zone: "UBS", ID: "42",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   []byte(`{}`),
		Extension: "json",
	}

	first, err := store.Write(rec)
	require.NoError(t, err)
	second, err := store.Write(rec)
	require.NoError(t, err)

	assert.Contains(t, first, "_01.json")
	assert.Contains(t, second, "_02.json")
	assert.NotEqual(t, first, second)
}

func TestWrite_IndependentResources(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(Config{Fs: fs})

	a, err := store.Write(Record{Type: "item", Zone: "NZ", ID: "1", Payload: []byte("a")})
	require.NoError(t, err)
	b, err := store.Write(Record{Type: "item", Zone: "NZ", ID: "2", Payload: []byte("b")})
	require.NoError(t, err)

	assert.Contains(t, a, "_01.")
	assert.Contains(t, b, "_01.", "versions are counted per resource, not globally")
}

func TestWrite_DefaultsTimestampAndExtension(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(Config{Fs: fs})

	path, err := store.Write(Record{Type: "bib", Zone: "NZ", ID: "9", Payload: []byte("<bib/>")})
	require.NoError(t, err)
	assert.Contains(t, path, ".xml")
}
