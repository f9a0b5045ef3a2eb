package scanner

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"

	"github.com/retronian/romidx/internal/db"
)

// Scan walks root and hashes every regular file, descending into zip
// archives without extracting them. Only the digests named by checks are
// computed; the index can't match the others anyway.
func Scan(root string, checks db.FileChecks) ([]db.DataFile, error) {
	groups, err := ScanGroups(root, checks)
	if err != nil {
		return nil, err
	}
	var files []db.DataFile
	for _, group := range groups {
		files = append(files, group...)
	}
	return files, nil
}

// ScanGroups is Scan keyed by container: the path of the file itself, or of
// the zip archive its entries came from, relative to root.
func ScanGroups(root string, checks db.FileChecks) (map[string][]db.DataFile, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	groups := make(map[string][]db.DataFile)
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("walk error")
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = info.Name()
		}

		if strings.EqualFold(filepath.Ext(path), ".zip") {
			entries, err := scanZip(path, checks)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("zip scan error")
				return nil
			}
			groups[rel] = entries
			return nil
		}

		file, err := hashFile(path, info.Size(), checks)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("hash error")
			return nil
		}
		groups[rel] = append(groups[rel], file)
		log.Debug().Str("file", rel).Str("crc", file.CRC).Msg("scanned")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// scanZip hashes every member in place. When CRC is the only digest the
// dataset declares, the zip directory already carries it and the member is
// never decompressed.
func scanZip(path string, checks db.FileChecks) ([]db.DataFile, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip %q: %w", path, err)
	}
	defer zr.Close()

	var files []db.DataFile
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}

		if checks&(db.ChecksSHA1|db.ChecksMD5) == 0 {
			files = append(files, db.DataFile{
				Name: member.Name,
				CRC:  fmt.Sprintf("%08x", member.CRC32),
				Size: int64(member.UncompressedSize64),
			})
			continue
		}

		rc, err := member.Open()
		if err != nil {
			log.Error().Err(err).Str("zip", path).Str("member", member.Name).Msg("zip member open error")
			continue
		}
		file, err := hashStream(rc, checks)
		rc.Close()
		if err != nil {
			log.Error().Err(err).Str("zip", path).Str("member", member.Name).Msg("zip member hash error")
			continue
		}
		file.Name = member.Name
		files = append(files, file)
	}
	return files, nil
}

func hashFile(path string, size int64, checks db.FileChecks) (db.DataFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return db.DataFile{}, err
	}
	defer f.Close()

	file, err := hashStream(f, checks)
	if err != nil {
		return db.DataFile{}, err
	}
	file.Name = filepath.Base(path)
	file.Size = size
	return file, nil
}

// hashStream computes the masked digests in a single pass.
func hashStream(r io.Reader, checks db.FileChecks) (db.DataFile, error) {
	var writers []io.Writer
	var sha1H, md5H hash.Hash
	var crcH hash.Hash32

	if checks.Has(db.ChecksSHA1) {
		sha1H = sha1.New()
		writers = append(writers, sha1H)
	}
	if checks.Has(db.ChecksMD5) {
		md5H = md5.New()
		writers = append(writers, md5H)
	}
	if checks.Has(db.ChecksCRC) {
		crcH = crc32.NewIEEE()
		writers = append(writers, crcH)
	}

	var n int64
	var err error
	if len(writers) > 0 {
		n, err = io.Copy(io.MultiWriter(writers...), r)
	} else {
		n, err = io.Copy(io.Discard, r)
	}
	if err != nil {
		return db.DataFile{}, err
	}

	file := db.DataFile{Size: n}
	if sha1H != nil {
		file.SHA1 = hex.EncodeToString(sha1H.Sum(nil))
	}
	if md5H != nil {
		file.MD5 = hex.EncodeToString(md5H.Sum(nil))
	}
	if crcH != nil {
		file.CRC = fmt.Sprintf("%08x", crcH.Sum32())
	}
	return file, nil
}
