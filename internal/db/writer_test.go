package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func newTestWriter(t *testing.T, d *DB, bufferSize uint16) *Writer {
	t.Helper()
	w := NewWriter(d, bufferSize)
	require.NoError(t, w.Init())
	return w
}

func countRows(t *testing.T, d *DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, d.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSingleGameIngest(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	game := Game{Name: "pacman", Description: "Pac-Man"}
	rom := DataFile{Name: "pac.rom", SHA1: "aa", Size: 8}
	require.NoError(t, w.OnEntry(game, []DataFile{rom}, nil, nil, nil))
	require.NoError(t, w.Finish())

	assert.EqualValues(t, 1, countRows(t, d, "roms"))
	assert.EqualValues(t, 1, countRows(t, d, "games"))

	reader := NewReader(d)
	roms, err := reader.GetRomsetRoms("pacman", NonMerged)
	require.NoError(t, err)
	require.Len(t, roms, 1)
	assert.Equal(t, "pac.rom", roms[0].Name)
	assert.Equal(t, "aa", roms[0].SHA1)
	assert.EqualValues(t, 8, roms[0].Size)
}

func TestDigestDedupAcrossGames(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	content := DataFile{SHA1: "aa", Size: 8}
	pac := content
	pac.Name = "pac.rom"
	mspac := content
	mspac.Name = "mspac.rom"

	require.NoError(t, w.OnEntry(Game{Name: "pacman"}, []DataFile{pac}, nil, nil, nil))
	require.NoError(t, w.OnEntry(Game{Name: "mspacman"}, []DataFile{mspac}, nil, nil, nil))
	require.NoError(t, w.Finish())

	assert.EqualValues(t, 1, countRows(t, d, "roms"))
	assert.EqualValues(t, 2, countRows(t, d, "game_roms"))

	search, err := NewReader(d).FindRomUsage("pacman", "pac.rom", NonMerged)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"pacman", "mspacman"}, search.Sets())
	require.Len(t, search.SetFiles("pacman"), 1)
	assert.Equal(t, "pac.rom", search.SetFiles("pacman")[0].Name)
	require.Len(t, search.SetFiles("mspacman"), 1)
	assert.Equal(t, "mspac.rom", search.SetFiles("mspacman")[0].Name)
}

func TestDedupAcrossFlushes(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 1) // flush after every entry

	content := DataFile{SHA1: "aa", Size: 8}
	a := content
	a.Name = "a.rom"
	b := content
	b.Name = "b.rom"

	require.NoError(t, w.OnEntry(Game{Name: "first"}, []DataFile{a}, nil, nil, nil))
	require.NoError(t, w.OnEntry(Game{Name: "second"}, []DataFile{b}, nil, nil, nil))
	require.NoError(t, w.Finish())

	// The second sighting resolves against the committed store, not a fresh id.
	assert.EqualValues(t, 1, countRows(t, d, "roms"))
	assert.EqualValues(t, 2, countRows(t, d, "game_roms"))
}

func TestDistinctTuplesGetDistinctIDs(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	full := DataFile{Name: "full.rom", SHA1: "aa", CRC: "cc", Size: 8}
	crcOnly := DataFile{Name: "crc.rom", CRC: "cc", Size: 8}
	require.NoError(t, w.OnEntry(Game{Name: "one"}, []DataFile{full}, nil, nil, nil))
	require.NoError(t, w.OnEntry(Game{Name: "two"}, []DataFile{crcOnly}, nil, nil, nil))
	require.NoError(t, w.Finish())

	// {sha1,crc} and {crc} are different declared tuples.
	assert.EqualValues(t, 2, countRows(t, d, "roms"))
}

func TestSameRomTwiceInOneGame(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	rom := DataFile{Name: "dup.rom", SHA1: "aa", Size: 8}
	require.NoError(t, w.OnEntry(Game{Name: "game"}, []DataFile{rom, rom}, nil, nil, nil))
	require.NoError(t, w.Finish())

	assert.EqualValues(t, 1, countRows(t, d, "roms"))
	assert.EqualValues(t, 1, countRows(t, d, "game_roms"))
}

func TestParentBackFill(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	shared := DataFile{SHA1: "aa", Size: 8}
	parent := shared
	parent.Name = "pac.rom"
	clone := shared
	clone.Name = "pac_j.rom"

	require.NoError(t, w.OnEntry(Game{Name: "pacman"}, []DataFile{parent}, nil, nil, nil))
	require.NoError(t, w.OnEntry(Game{Name: "pacmanjp", CloneOf: "pacman"}, []DataFile{clone}, nil, nil, nil))
	require.NoError(t, w.Finish())

	var p string
	require.NoError(t, d.QueryRow(`SELECT parent FROM game_roms WHERE game_name = 'pacmanjp'`).Scan(&p))
	assert.Equal(t, "pacman", p)

	var parentCount int64
	require.NoError(t, d.QueryRow(`SELECT COUNT(parent) FROM game_roms WHERE game_name = 'pacman'`).Scan(&parentCount))
	assert.Zero(t, parentCount, "parent rows must not point at themselves")
}

func TestBufferFlushThreshold(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 3)

	require.NoError(t, w.OnEntry(Game{Name: "a"}, nil, nil, nil, nil))
	require.NoError(t, w.OnEntry(Game{Name: "b"}, nil, nil, nil, nil))
	assert.Zero(t, countRows(t, d, "games"), "below threshold, nothing committed")

	require.NoError(t, w.OnEntry(Game{Name: "c"}, nil, nil, nil, nil))
	assert.EqualValues(t, 3, countRows(t, d, "games"), "threshold reached, batch committed")
}

func TestSampleSetsCountTowardBufferSize(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 2)

	game := Game{Name: "outrun", SampleOf: "outrun"}
	require.NoError(t, w.OnEntry(game, nil, nil, []string{"engine.wav", "skid.wav"}, nil))
	// one game + one sample set reaches the threshold of two
	assert.EqualValues(t, 1, countRows(t, d, "games"))
	assert.EqualValues(t, 2, countRows(t, d, "samples"))
}

func TestDuplicateGameNameIsFatal(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 1)

	require.NoError(t, w.OnEntry(Game{Name: "pacman"}, nil, nil, nil, nil))
	err := w.OnEntry(Game{Name: "pacman"}, nil, nil, nil, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestMalformedEntries(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	err := w.OnEntry(Game{}, nil, nil, nil, nil)
	require.ErrorIs(t, err, ErrMalformed)

	err = w.OnEntry(Game{Name: "selfie", CloneOf: "selfie"}, nil, nil, nil, nil)
	require.ErrorIs(t, err, ErrMalformed)

	// the session keeps going after skipped entries
	require.NoError(t, w.OnEntry(Game{Name: "fine"}, nil, nil, nil, nil))
	require.NoError(t, w.Finish())
	assert.EqualValues(t, 1, countRows(t, d, "games"))
}

func TestCloneCycleRejectedAtFinish(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	require.NoError(t, w.OnEntry(Game{Name: "a", CloneOf: "b"}, nil, nil, nil, nil))
	require.NoError(t, w.OnEntry(Game{Name: "b", CloneOf: "a"}, nil, nil, nil, nil))
	err := w.Finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestDeviceRefsAndDisks(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	game := Game{Name: "driver"}
	disk := DataFile{Name: "game.chd", SHA1: "dd", Region: "us"}
	require.NoError(t, w.OnEntry(game, nil, []DataFile{disk}, nil, []string{"z80", "ym2151"}))
	require.NoError(t, w.Finish())

	assert.EqualValues(t, 1, countRows(t, d, "disks"))
	assert.EqualValues(t, 1, countRows(t, d, "game_disks"))
	assert.EqualValues(t, 2, countRows(t, d, "devices"))

	devices, err := NewReader(d).GetDevicesForGame("driver")
	require.NoError(t, err)
	assert.Equal(t, []string{"ym2151", "z80"}, devices)
}

func TestSetInfo(t *testing.T) {
	d := newTestDB(t)
	w := newTestWriter(t, d, 10)

	info := DatInfo{
		Name:        "Test Set",
		Description: "A test set",
		Version:     "1.0",
		Extras:      []ExtraData{{Key: "author", Value: "someone"}},
	}
	require.NoError(t, w.SetInfo(info))
	require.NoError(t, w.Finish())

	report, err := NewReader(d).GetDBReport()
	require.NoError(t, err)
	assert.Equal(t, "Test Set", report.DatInfo.Name)
	assert.Equal(t, "1.0", report.DatInfo.Version)
	require.Len(t, report.DatInfo.Extras, 1)
	assert.Equal(t, "author", report.DatInfo.Extras[0].Key)
	assert.Equal(t, "someone", report.DatInfo.Extras[0].Value)
}

// Ids are stable across an interrupted run: committed batches survive, the
// back-fill has not run, and a reset plus identical replay reproduces the
// same mapping.
func TestResumeAfterPartialIngest(t *testing.T) {
	d := newTestDB(t)

	ingest := func(w *Writer, finish bool) {
		shared := DataFile{SHA1: "aa", Size: 8}
		parent := shared
		parent.Name = "pac.rom"
		clone := shared
		clone.Name = "pac_j.rom"
		other := DataFile{Name: "other.rom", SHA1: "bb", Size: 4}
		require.NoError(t, w.OnEntry(Game{Name: "pacman"}, []DataFile{parent}, nil, nil, nil))
		require.NoError(t, w.OnEntry(Game{Name: "pacmanjp", CloneOf: "pacman"}, []DataFile{clone}, nil, nil, nil))
		require.NoError(t, w.OnEntry(Game{Name: "galaga"}, []DataFile{other}, nil, nil, nil))
		if finish {
			require.NoError(t, w.Finish())
		}
	}

	// First run crashes before Finish: every entry flushed (buffer size 1),
	// no parent resolution.
	w := newTestWriter(t, d, 1)
	ingest(w, false)

	assert.EqualValues(t, 3, countRows(t, d, "games"))
	var parents int64
	require.NoError(t, d.QueryRow(`SELECT COUNT(parent) FROM game_roms`).Scan(&parents))
	assert.Zero(t, parents)

	idsBefore := digestIDMap(t, d)

	// A fresh session resets and replays the same input in the same order.
	w = newTestWriter(t, d, 1)
	ingest(w, true)

	assert.Equal(t, idsBefore, digestIDMap(t, d))
	var p string
	require.NoError(t, d.QueryRow(`SELECT parent FROM game_roms WHERE game_name = 'pacmanjp'`).Scan(&p))
	assert.Equal(t, "pacman", p)
}

func digestIDMap(t *testing.T, d *DB) map[string]int64 {
	t.Helper()
	rows, err := d.Query(`SELECT COALESCE(sha1, ''), id FROM roms`)
	require.NoError(t, err)
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var sha1 string
		var id int64
		require.NoError(t, rows.Scan(&sha1, &id))
		ids[sha1] = id
	}
	require.NoError(t, rows.Err())
	return ids
}

func TestInitDropsPreExistingTables(t *testing.T) {
	d := newTestDB(t)
	_, err := d.Exec(`CREATE TABLE roms (whatever TEXT)`)
	require.NoError(t, err)

	w := NewWriter(d, 10)
	require.NoError(t, w.Init())
	require.NoError(t, w.OnEntry(Game{Name: "pacman"}, []DataFile{{Name: "pac.rom", SHA1: "aa", Size: 8}}, nil, nil, nil))
	require.NoError(t, w.Finish())
	assert.EqualValues(t, 1, countRows(t, d, "roms"))
}
