package scanner

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retronian/romidx/internal/db"
)

func TestScanHashesPerMask(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("pacman rom payload")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pac.rom"), payload, 0644))

	files, err := Scan(dir, db.ChecksSHA1|db.ChecksCRC)
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	assert.Equal(t, "pac.rom", f.Name)
	assert.EqualValues(t, len(payload), f.Size)

	wantSHA1 := sha1.Sum(payload)
	assert.Equal(t, hex.EncodeToString(wantSHA1[:]), f.SHA1)
	assert.Equal(t, fmt.Sprintf("%08x", crc32.ChecksumIEEE(payload)), f.CRC)
	assert.Empty(t, f.MD5, "unmasked digest is not computed")
}

func TestScanGroupsZipMembers(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("zipped rom payload")

	zipPath := filepath.Join(dir, "pacman.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	member, err := zw.Create("pac.rom")
	require.NoError(t, err)
	_, err = member.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	groups, err := ScanGroups(dir, db.ChecksSHA1|db.ChecksCRC)
	require.NoError(t, err)
	require.Contains(t, groups, "pacman.zip")

	files := groups["pacman.zip"]
	require.Len(t, files, 1)
	assert.Equal(t, "pac.rom", files[0].Name)
	wantSHA1 := sha1.Sum(payload)
	assert.Equal(t, hex.EncodeToString(wantSHA1[:]), files[0].SHA1)
	assert.EqualValues(t, len(payload), files[0].Size)
}

// With a CRC-only dataset, zip members never get decompressed; the digest
// comes from the archive directory.
func TestScanZipCRCOnly(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("crc only payload")

	zipPath := filepath.Join(dir, "set.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	member, err := zw.Create("a.rom")
	require.NoError(t, err)
	_, err = member.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	groups, err := ScanGroups(dir, db.ChecksCRC)
	require.NoError(t, err)
	files := groups["set.zip"]
	require.Len(t, files, 1)
	assert.Equal(t, fmt.Sprintf("%08x", crc32.ChecksumIEEE(payload)), files[0].CRC)
	assert.Empty(t, files[0].SHA1)
	assert.EqualValues(t, len(payload), files[0].Size)
}

func TestScanSkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("junk"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "config"), []byte("junk"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.rom"), []byte("rom"), 0644))

	files, err := Scan(dir, db.ChecksCRC)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "real.rom", files[0].Name)
}

func TestScanRejectsNonDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err := Scan(file, db.ChecksAll)
	assert.Error(t, err)
}
