package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retronian/romidx/internal/db"
)

// fixture builds an index with two sets:
//
//	pacman  base.rom(aa) + extra.rom(bb)
//	galaga  gal.rom(dd)
func fixture(t *testing.T) *db.Reader {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	w := db.NewWriter(database, 0)
	require.NoError(t, w.Init())
	require.NoError(t, w.OnEntry(db.Game{Name: "pacman"}, []db.DataFile{
		{Name: "base.rom", SHA1: "aa", Size: 8},
		{Name: "extra.rom", SHA1: "bb", Size: 16},
	}, nil, nil, nil))
	require.NoError(t, w.OnEntry(db.Game{Name: "galaga"}, []db.DataFile{
		{Name: "gal.rom", SHA1: "dd", Size: 2},
	}, nil, nil, nil))
	require.NoError(t, w.Finish())

	return db.NewReader(database)
}

func setByName(t *testing.T, file *FileReport, name string) *SetReport {
	t.Helper()
	for i := range file.Sets {
		if file.Sets[i].Name == name {
			return &file.Sets[i]
		}
	}
	t.Fatalf("no report for set %q", name)
	return nil
}

func TestCheckCompleteSet(t *testing.T) {
	reader := fixture(t)

	groups := map[string][]db.DataFile{
		"pacman.zip": {
			{Name: "base.rom", SHA1: "aa", Size: 8},
			{Name: "extra.rom", SHA1: "bb", Size: 16},
		},
	}
	report, err := Check(reader, db.NonMerged, groups)
	require.NoError(t, err)
	require.Len(t, report.Files, 1)

	set := setByName(t, &report.Files[0], "pacman")
	assert.Len(t, set.Have, 2)
	assert.Empty(t, set.ToRename)
	assert.Empty(t, set.Missing)
	assert.Empty(t, set.Unneeded)
	assert.True(t, set.Complete())
}

func TestCheckRenameAndMissing(t *testing.T) {
	reader := fixture(t)

	// right content, wrong name; the second rom absent
	groups := map[string][]db.DataFile{
		"pacman.zip": {
			{Name: "renamed.bin", SHA1: "aa", Size: 8},
		},
	}
	report, err := Check(reader, db.NonMerged, groups)
	require.NoError(t, err)

	set := setByName(t, &report.Files[0], "pacman")
	assert.Empty(t, set.Have)
	require.Len(t, set.ToRename, 1)
	assert.Equal(t, "renamed.bin", set.ToRename[0].From.Name)
	assert.Equal(t, "base.rom", set.ToRename[0].To)
	require.Len(t, set.Missing, 1)
	assert.Equal(t, "extra.rom", set.Missing[0].Name)
	assert.False(t, set.Complete())
}

func TestCheckUnneededAndUnknown(t *testing.T) {
	reader := fixture(t)

	groups := map[string][]db.DataFile{
		"pacman.zip": {
			{Name: "base.rom", SHA1: "aa", Size: 8},
			{Name: "gal.rom", SHA1: "dd", Size: 2},   // belongs to galaga
			{Name: "junk.bin", SHA1: "zz", Size: 99}, // unknown to the index
		},
	}
	report, err := Check(reader, db.NonMerged, groups)
	require.NoError(t, err)
	require.Len(t, report.Files, 1)

	file := &report.Files[0]
	assert.Equal(t, []string{"junk.bin"}, file.Unknown)

	pacman := setByName(t, file, "pacman")
	require.Len(t, pacman.Unneeded, 1)
	assert.Equal(t, "gal.rom", pacman.Unneeded[0].Name)

	galaga := setByName(t, file, "galaga")
	assert.Len(t, galaga.Have, 1)
	require.Len(t, galaga.Unneeded, 1)
	assert.Equal(t, "base.rom", galaga.Unneeded[0].Name)
}

func TestCheckMultipleContainersSorted(t *testing.T) {
	reader := fixture(t)

	groups := map[string][]db.DataFile{
		"b/galaga.zip": {{Name: "gal.rom", SHA1: "dd", Size: 2}},
		"a/pacman.zip": {{Name: "base.rom", SHA1: "aa", Size: 8}},
	}
	report, err := Check(reader, db.NonMerged, groups)
	require.NoError(t, err)
	require.Len(t, report.Files, 2)
	assert.Equal(t, "a/pacman.zip", report.Files[0].FileName)
	assert.Equal(t, "b/galaga.zip", report.Files[1].FileName)
}

func TestContentMatchesRespectsMask(t *testing.T) {
	rom := db.DataFile{Name: "a", SHA1: "aa", CRC: "11"}
	file := db.DataFile{Name: "a", SHA1: "aa", CRC: "22"}

	// with CRC masked out the conflicting digest is ignored
	assert.True(t, contentMatches(rom, file, db.ChecksSHA1))
	assert.False(t, contentMatches(rom, file, db.ChecksSHA1|db.ChecksCRC))

	// nothing comparable at all is not a match
	assert.False(t, contentMatches(db.DataFile{SHA1: "aa"}, db.DataFile{CRC: "11"}, db.ChecksAll))
}
