package audit

import (
	"sort"

	"github.com/retronian/romidx/internal/db"
)

// Check audits scanned containers against the index. Every set any of a
// container's files belongs to gets a SetReport; files matching no known
// content are listed as unknown.
func Check(reader *db.Reader, mode db.RomsetMode, groups map[string][]db.DataFile) (*Report, error) {
	checks, err := reader.GetFileChecks()
	if err != nil {
		return nil, err
	}

	containers := make([]string, 0, len(groups))
	for name := range groups {
		containers = append(containers, name)
	}
	sort.Strings(containers)

	report := &Report{}
	for _, container := range containers {
		fileReport, err := auditContainer(reader, mode, checks, container, groups[container])
		if err != nil {
			return nil, err
		}
		report.Files = append(report.Files, *fileReport)
	}
	return report, nil
}

func auditContainer(reader *db.Reader, mode db.RomsetMode, checks db.FileChecks, container string, files []db.DataFile) (*FileReport, error) {
	fileReport := &FileReport{FileName: container}

	search, err := reader.GetRomsetsFromRoms(files, mode)
	if err != nil {
		return nil, err
	}
	unknown := make(map[db.DataFile]bool, len(search.Unknowns))
	for _, file := range search.Unknowns {
		fileReport.Unknown = append(fileReport.Unknown, file.Name)
		unknown[file] = true
	}
	known := files[:0:0]
	for _, file := range files {
		if !unknown[file] {
			known = append(known, file)
		}
	}

	for _, setName := range search.Sets() {
		setReport, err := auditSet(reader, mode, checks, setName, known)
		if err != nil {
			return nil, err
		}
		fileReport.Sets = append(fileReport.Sets, *setReport)
	}
	return fileReport, nil
}

// auditSet classifies the observed files against one set's expected roms.
func auditSet(reader *db.Reader, mode db.RomsetMode, checks db.FileChecks, setName string, files []db.DataFile) (*SetReport, error) {
	expected, err := reader.GetRomsetRoms(setName, mode)
	if err != nil {
		return nil, err
	}

	setReport := &SetReport{Name: setName}
	matched := make([]bool, len(expected))
	for _, file := range files {
		idx := matchExpected(expected, matched, file, checks)
		if idx < 0 {
			if anyContentMatch(expected, file, checks) {
				// Duplicate copy of content already matched.
				continue
			}
			setReport.Unneeded = append(setReport.Unneeded, file)
			continue
		}
		matched[idx] = true
		if expected[idx].Name == file.Name {
			setReport.Have = append(setReport.Have, file)
		} else {
			setReport.ToRename = append(setReport.ToRename, FileRename{From: file, To: expected[idx].Name})
		}
	}
	for i, rom := range expected {
		if !matched[i] {
			setReport.Missing = append(setReport.Missing, rom)
		}
	}
	return setReport, nil
}

// matchExpected finds the first unmatched expected rom with the same
// content, preferring an exact name match so aliases don't steal it.
func matchExpected(expected []db.DataFile, matched []bool, file db.DataFile, checks db.FileChecks) int {
	candidate := -1
	for i, rom := range expected {
		if matched[i] || !contentMatches(rom, file, checks) {
			continue
		}
		if rom.Name == file.Name {
			return i
		}
		if candidate < 0 {
			candidate = i
		}
	}
	return candidate
}

func anyContentMatch(expected []db.DataFile, file db.DataFile, checks db.FileChecks) bool {
	for _, rom := range expected {
		if contentMatches(rom, file, checks) {
			return true
		}
	}
	return false
}

// contentMatches compares the digests both sides declare, restricted to the
// dataset's mask. At least one digest must be comparable.
func contentMatches(rom, file db.DataFile, checks db.FileChecks) bool {
	compared := false
	if checks.Has(db.ChecksSHA1) && rom.SHA1 != "" && file.SHA1 != "" {
		if rom.SHA1 != file.SHA1 {
			return false
		}
		compared = true
	}
	if checks.Has(db.ChecksMD5) && rom.MD5 != "" && file.MD5 != "" {
		if rom.MD5 != file.MD5 {
			return false
		}
		compared = true
	}
	if checks.Has(db.ChecksCRC) && rom.CRC != "" && file.CRC != "" {
		if rom.CRC != file.CRC {
			return false
		}
		compared = true
	}
	return compared
}
