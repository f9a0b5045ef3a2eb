package db

import (
	"database/sql"
	"fmt"
	"sort"
)

// Reader is the query side of the index. It never mutates the store; open it
// against a finalized database.
type Reader struct {
	db *DB
}

func NewReader(d *DB) *Reader {
	return &Reader{db: d}
}

// GetGame returns the game by name, or nil when the name is unknown.
func (r *Reader) GetGame(name string) (*Game, error) {
	row := r.db.QueryRow(`SELECT name, clone_of, rom_of, source_file, sample_of, info_desc, info_year, info_manuf
		FROM games WHERE name = ?`, name)

	var game Game
	var cloneOf, romOf, sourceFile, sampleOf, desc, year, manuf sql.NullString
	err := row.Scan(&game.Name, &cloneOf, &romOf, &sourceFile, &sampleOf, &desc, &year, &manuf)
	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get game %q: %w", name, err)
	}
	game.CloneOf = cloneOf.String
	game.RomOf = romOf.String
	game.SourceFile = sourceFile.String
	game.SampleOf = sampleOf.String
	game.Description = desc.String
	game.Year = year.String
	game.Manufacturer = manuf.String
	return &game, nil
}

// GetGameSet materializes the full set for a game under the chosen mode.
// Unlike GetGame, an unknown name here is an error.
func (r *Reader) GetGameSet(name string, mode RomsetMode) (*GameSet, error) {
	game, err := r.GetGame(name)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return nil, fmt.Errorf("game %q not found", name)
	}

	roms, err := r.GetRomsetRoms(name, mode)
	if err != nil {
		return nil, err
	}
	disks, err := r.getRomsetDisks(name, mode)
	if err != nil {
		return nil, err
	}
	var samples []string
	if game.SampleOf != "" {
		samples, err = r.getSamples(game.SampleOf)
		if err != nil {
			return nil, err
		}
	}
	return &GameSet{Game: *game, Roms: roms, Disks: disks, Samples: samples}, nil
}

type romRow struct {
	id   int64
	file DataFile
}

// GetRomsetRoms returns the ROMs the set nominally contains under the mode:
// everything folded under the parent for Merged, everything needed to run
// for NonMerged, only the unique ROMs for Split.
func (r *Reader) GetRomsetRoms(name string, mode RomsetMode) ([]DataFile, error) {
	rows, err := r.romsetRows(name, mode)
	if err != nil {
		return nil, err
	}
	files := make([]DataFile, 0, len(rows))
	for _, row := range rows {
		files = append(files, row.file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (r *Reader) romsetRows(name string, mode RomsetMode) ([]romRow, error) {
	switch mode {
	case Split:
		return r.queryRomRows(`SELECT game_roms.rom_id, game_roms.name, roms.sha1, roms.md5, roms.crc, roms.size, roms.status
			FROM game_roms JOIN roms ON roms.id = game_roms.rom_id
			WHERE game_roms.game_name = ? AND game_roms.parent IS NULL`, name)
	case Merged:
		// A merged set exists per tree root, so a clone's merged set is its
		// parent's.
		root, err := r.rootOf(name)
		if err != nil {
			return nil, err
		}
		return r.queryRomRows(`SELECT DISTINCT game_roms.rom_id, game_roms.name, roms.sha1, roms.md5, roms.crc, roms.size, roms.status
			FROM game_roms JOIN roms ON roms.id = game_roms.rom_id
			WHERE game_roms.game_name = ?
			   OR game_roms.game_name IN (SELECT name FROM games WHERE clone_of = ?)`, root, root)
	case NonMerged:
		return r.nonMergedRows(name, make(map[string]bool))
	default:
		return nil, fmt.Errorf("unknown romset mode %v", mode)
	}
}

// rootOf follows clone_of edges up to the tree root.
func (r *Reader) rootOf(name string) (string, error) {
	visited := map[string]bool{}
	for {
		if visited[name] {
			return name, nil
		}
		visited[name] = true
		game, err := r.GetGame(name)
		if err != nil {
			return "", err
		}
		if game == nil || game.CloneOf == "" {
			return name, nil
		}
		name = game.CloneOf
	}
}

// nonMergedRows collects the game's own memberships plus everything
// inherited through clone_of, rom_of and device refs. An inherited ROM keeps
// the parent's local name unless the game's own membership already names
// that content. The visited set keeps a parent that is reached twice, through
// clone_of, rom_of or a device ref, from being walked again.
func (r *Reader) nonMergedRows(name string, visited map[string]bool) ([]romRow, error) {
	if visited[name] {
		return nil, nil
	}
	visited[name] = true

	rows, err := r.queryRomRows(`SELECT game_roms.rom_id, game_roms.name, roms.sha1, roms.md5, roms.crc, roms.size, roms.status
		FROM game_roms JOIN roms ON roms.id = game_roms.rom_id
		WHERE game_roms.game_name = ?`, name)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(rows))
	for _, row := range rows {
		seen[row.id] = true
	}

	game, err := r.GetGame(name)
	if err != nil {
		return nil, err
	}
	if game == nil {
		return rows, nil
	}

	parents := []string{}
	if game.CloneOf != "" {
		parents = append(parents, game.CloneOf)
	}
	if game.RomOf != "" && game.RomOf != game.CloneOf {
		parents = append(parents, game.RomOf)
	}
	devices, err := r.GetDevicesForGame(name)
	if err != nil {
		return nil, err
	}
	parents = append(parents, devices...)

	for _, parent := range parents {
		inherited, err := r.nonMergedRows(parent, visited)
		if err != nil {
			return nil, err
		}
		for _, row := range inherited {
			if seen[row.id] {
				continue
			}
			seen[row.id] = true
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (r *Reader) queryRomRows(query string, args ...interface{}) ([]romRow, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query romset rows: %w", err)
	}
	defer rows.Close()

	var out []romRow
	for rows.Next() {
		var row romRow
		var sha1, md5, crc, status sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&row.id, &row.file.Name, &sha1, &md5, &crc, &size, &status); err != nil {
			return nil, fmt.Errorf("scan romset row: %w", err)
		}
		row.file.SHA1 = sha1.String
		row.file.MD5 = md5.String
		row.file.CRC = crc.String
		row.file.Size = size.Int64
		row.file.Status = status.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query romset rows: %w", err)
	}
	return out, nil
}

// getRomsetDisks mirrors GetRomsetRoms over the disks tables. Disks carry no
// device inheritance, so NonMerged only follows clone_of.
func (r *Reader) getRomsetDisks(name string, mode RomsetMode) ([]DataFile, error) {
	var query string
	args := []interface{}{name}
	switch mode {
	case Split:
		query = `SELECT disks.sha1, disks.region, disks.status
			FROM game_disks JOIN disks ON disks.id = game_disks.disk_id
			WHERE game_disks.game_name = ? AND game_disks.parent IS NULL`
	case Merged:
		root, err := r.rootOf(name)
		if err != nil {
			return nil, err
		}
		query = `SELECT DISTINCT disks.sha1, disks.region, disks.status
			FROM game_disks JOIN disks ON disks.id = game_disks.disk_id
			WHERE game_disks.game_name = ?
			   OR game_disks.game_name IN (SELECT name FROM games WHERE clone_of = ?)`
		args = []interface{}{root, root}
	case NonMerged:
		query = `SELECT DISTINCT disks.sha1, disks.region, disks.status
			FROM game_disks JOIN disks ON disks.id = game_disks.disk_id
			WHERE game_disks.game_name = ?
			   OR game_disks.game_name IN (SELECT clone_of FROM games WHERE name = ? AND clone_of IS NOT NULL)`
		args = append(args, name)
	default:
		return nil, fmt.Errorf("unknown romset mode %v", mode)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query disks for %q: %w", name, err)
	}
	defer rows.Close()

	// The membership table for disks carries no local name, so disks come
	// back identified by digest alone.
	var disks []DataFile
	for rows.Next() {
		var disk DataFile
		var sha1, region, status sql.NullString
		if err := rows.Scan(&sha1, &region, &status); err != nil {
			return nil, fmt.Errorf("scan disk row: %w", err)
		}
		disk.SHA1 = sha1.String
		disk.Region = region.String
		disk.Status = status.String
		disks = append(disks, disk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query disks for %q: %w", name, err)
	}
	return disks, nil
}

func (r *Reader) getSamples(pack string) ([]string, error) {
	rows, err := r.db.Query(`SELECT sample FROM samples WHERE sample_set = ? ORDER BY sample`, pack)
	if err != nil {
		return nil, fmt.Errorf("query samples for %q: %w", pack, err)
	}
	defer rows.Close()

	var samples []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// GetDevicesForGame returns the device refs the game depends on.
func (r *Reader) GetDevicesForGame(name string) ([]string, error) {
	rows, err := r.db.Query(`SELECT device_ref FROM devices WHERE game_name = ? ORDER BY device_ref`, name)
	if err != nil {
		return nil, fmt.Errorf("query devices for %q: %w", name, err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan device ref: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetFileChecks reports which digest columns are populated anywhere in the
// dataset. Scanners use it to skip digests the index can never match.
func (r *Reader) GetFileChecks() (FileChecks, error) {
	var sha1Count, md5Count, crcCount int64
	err := r.db.QueryRow(`SELECT COUNT(sha1), COUNT(md5), COUNT(crc) FROM roms`).
		Scan(&sha1Count, &md5Count, &crcCount)
	if err != nil {
		return 0, fmt.Errorf("count digest columns: %w", err)
	}

	checks := ChecksAll
	if sha1Count == 0 {
		checks &^= ChecksSHA1
	}
	if md5Count == 0 {
		checks &^= ChecksMD5
	}
	if crcCount == 0 {
		checks &^= ChecksCRC
	}
	return checks, nil
}

// findFileID resolves an observed file to a content id, comparing only the
// digest columns both the dataset and the file declare. Ties resolve to the
// smallest id.
func (r *Reader) findFileID(file DataFile, checks FileChecks) (int64, bool, error) {
	query := `SELECT id FROM roms WHERE 1=1`
	var args []interface{}
	if checks.Has(ChecksSHA1) && file.SHA1 != "" {
		query += ` AND sha1 = ?`
		args = append(args, file.SHA1)
	}
	if checks.Has(ChecksMD5) && file.MD5 != "" {
		query += ` AND md5 = ?`
		args = append(args, file.MD5)
	}
	if checks.Has(ChecksCRC) && file.CRC != "" {
		query += ` AND crc = ?`
		args = append(args, file.CRC)
	}
	if len(args) == 0 {
		return 0, false, nil
	}
	query += ` ORDER BY id LIMIT 1`

	var id int64
	err := r.db.QueryRow(query, args...).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("find file id: %w", err)
	}
	return id, true, nil
}

// setNameFor applies the mode rule to a membership row: Split drops shared
// rows entirely, Merged attributes them under the parent.
func setNameFor(gameName string, parent string, mode RomsetMode) (string, bool) {
	switch mode {
	case Split:
		if parent != "" {
			return "", false
		}
		return gameName, true
	case Merged:
		if parent != "" {
			return parent, true
		}
		return gameName, true
	default:
		return gameName, true
	}
}

// addUsages enumerates every membership of a content id and inserts the file
// into the search result under each surviving set, with the local name
// overwritten. Games listed in exclude are skipped.
func (r *Reader) addUsages(search *RomSearch, id int64, file DataFile, mode RomsetMode, exclude string) error {
	rows, err := r.db.Query(`SELECT game_name, name, parent FROM game_roms WHERE rom_id = ?`, id)
	if err != nil {
		return fmt.Errorf("reverse lookup rom %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var gameName, localName string
		var parent sql.NullString
		if err := rows.Scan(&gameName, &localName, &parent); err != nil {
			return fmt.Errorf("scan reverse lookup row: %w", err)
		}
		if exclude != "" && gameName == exclude {
			continue
		}
		setName, ok := setNameFor(gameName, parent.String, mode)
		if !ok {
			continue
		}
		named := file
		named.Name = localName
		search.AddFileForSet(setName, named)
	}
	return rows.Err()
}

// FindRomUsage reports every set that contains the content of the named ROM
// of a game, and the local names it appears under.
func (r *Reader) FindRomUsage(gameName, romName string, mode RomsetMode) (*RomSearch, error) {
	rows, err := r.db.Query(`SELECT game_roms.rom_id, roms.sha1, roms.md5, roms.crc, roms.size, roms.status
		FROM game_roms JOIN roms ON roms.id = game_roms.rom_id
		WHERE game_roms.game_name = ? AND game_roms.name = ?`, gameName, romName)
	if err != nil {
		return nil, fmt.Errorf("find rom %q of %q: %w", romName, gameName, err)
	}
	defer rows.Close()

	var targets []romRow
	for rows.Next() {
		var row romRow
		var sha1, md5, crc, status sql.NullString
		var size sql.NullInt64
		if err := rows.Scan(&row.id, &sha1, &md5, &crc, &size, &status); err != nil {
			return nil, fmt.Errorf("scan rom row: %w", err)
		}
		row.file = DataFile{Name: romName, SHA1: sha1.String, MD5: md5.String, CRC: crc.String,
			Size: size.Int64, Status: status.String}
		targets = append(targets, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find rom %q of %q: %w", romName, gameName, err)
	}

	search := NewRomSearch()
	for _, target := range targets {
		if err := r.addUsages(search, target.id, target.file, mode, ""); err != nil {
			return nil, err
		}
	}
	return search, nil
}

// GetRomsetSharedRoms reports every other set that shares any ROM content
// with the given game's set.
func (r *Reader) GetRomsetSharedRoms(gameName string, mode RomsetMode) (*RomSearch, error) {
	rows, err := r.romsetRows(gameName, mode)
	if err != nil {
		return nil, err
	}

	search := NewRomSearch()
	for _, row := range rows {
		if err := r.addUsages(search, row.id, row.file, mode, gameName); err != nil {
			return nil, err
		}
	}
	return search, nil
}

// GetRomsetsFromRoms buckets a bag of observed files by the sets they belong
// to. Files whose content the index doesn't know end up in unknowns.
func (r *Reader) GetRomsetsFromRoms(files []DataFile, mode RomsetMode) (*RomSearch, error) {
	checks, err := r.GetFileChecks()
	if err != nil {
		return nil, err
	}

	search := NewRomSearch()
	for _, file := range files {
		id, found, err := r.findFileID(file, checks)
		if err != nil {
			return nil, err
		}
		if !found {
			search.AddFileUnknown(file)
			continue
		}
		if err := r.addUsages(search, id, file, mode, ""); err != nil {
			return nil, err
		}
	}
	return search, nil
}
