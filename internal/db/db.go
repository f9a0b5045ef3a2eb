package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

type DB struct {
	*sql.DB
}

// reservedTables are the tables Init owns. Any pre-existing table with one
// of these names is dropped before the schema is recreated.
var reservedTables = []string{
	"info", "roms", "games", "game_roms", "devices", "disks", "game_disks", "samples",
}

// Open opens (or creates) the index store at path. The connection is held
// exclusively: one writer or one reader at a time, so the pool is pinned to
// a single connection.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// OpenMemory opens a throwaway in-memory store.
func OpenMemory() (*DB, error) {
	return Open(":memory:")
}

// Init (re)creates the empty schema, dropping any prior table with a
// reserved name.
func (d *DB) Init() error {
	for _, table := range reservedTables {
		var name string
		err := d.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		switch {
		case err == sql.ErrNoRows:
			continue
		case err != nil:
			return fmt.Errorf("check table %q: %w", table, err)
		}
		log.Debug().Str("table", name).Msg("dropping table")
		if _, err := d.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
			return fmt.Errorf("drop table %q: %w", name, err)
		}
	}
	return d.createSchema()
}

func (d *DB) createSchema() error {
	schema := `
	CREATE TABLE info (
		name        TEXT,
		description TEXT,
		version     TEXT);
	CREATE TABLE roms (
		id      INTEGER PRIMARY KEY,
		sha1    TEXT,
		md5     TEXT,
		crc     TEXT,
		size    INT,
		status  TEXT);
	CREATE INDEX roms_sha1 ON roms(sha1);
	CREATE INDEX roms_md5 ON roms(md5);
	CREATE INDEX roms_crc ON roms(crc);
	CREATE INDEX roms_checks ON roms(sha1, md5, crc);
	CREATE TABLE games (
		name        TEXT PRIMARY KEY,
		clone_of    TEXT,
		rom_of      TEXT,
		source_file TEXT,
		sample_of   TEXT,
		info_desc   TEXT,
		info_year   TEXT,
		info_manuf  TEXT);
	CREATE INDEX games_parents ON games(clone_of);
	CREATE INDEX games_samples ON games(sample_of);
	CREATE TABLE game_roms (
		game_name   TEXT,
		rom_id      INTEGER,
		name        TEXT,
		parent      TEXT,
		PRIMARY KEY (game_name, rom_id, name));
	CREATE INDEX game_roms_game ON game_roms(game_name);
	CREATE INDEX game_roms_rom ON game_roms(rom_id);
	CREATE INDEX game_roms_parents ON game_roms(parent);
	CREATE TABLE devices (
		game_name   TEXT,
		device_ref  TEXT,
		PRIMARY KEY (game_name, device_ref));
	CREATE INDEX devices_games ON devices(game_name);
	CREATE INDEX devices_refs ON devices(device_ref);
	CREATE TABLE disks (
		id      INTEGER PRIMARY KEY,
		sha1    TEXT,
		region  TEXT,
		status  TEXT);
	CREATE INDEX disks_sha1 ON disks(sha1);
	CREATE TABLE game_disks (
		game_name   TEXT,
		disk_id     INTEGER,
		parent      TEXT,
		PRIMARY KEY (game_name, disk_id));
	CREATE INDEX game_disks_game ON game_disks(game_name);
	CREATE INDEX game_disks_disks ON game_disks(disk_id);
	CREATE TABLE samples (
		sample_set  TEXT,
		sample      TEXT,
		PRIMARY KEY (sample_set, sample));
	CREATE INDEX sample_sets ON samples(sample_set);
	`
	if _, err := d.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// lookupROMID returns the committed id whose stored digest tuple matches the
// query exactly: each digest column is either declared and equal on both
// sides, or absent on both. Two distinct declared tuples never share an id.
func (d *DB) lookupROMID(file DataFile) (int64, bool, error) {
	query, args := digestMatchQuery("roms", file)
	var id int64
	err := d.QueryRow(query, args...).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("lookup rom id: %w", err)
	}
	return id, true, nil
}

// lookupDiskID is the disk twin of lookupROMID; disks dedup on sha1 alone.
func (d *DB) lookupDiskID(file DataFile) (int64, bool, error) {
	query := `SELECT id FROM disks WHERE sha1 IS NULL ORDER BY id LIMIT 1`
	var args []interface{}
	if file.SHA1 != "" {
		query = `SELECT id FROM disks WHERE sha1 = ? ORDER BY id LIMIT 1`
		args = append(args, file.SHA1)
	}
	var id int64
	err := d.QueryRow(query, args...).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("lookup disk id: %w", err)
	}
	return id, true, nil
}

func digestMatchQuery(table string, file DataFile) (string, []interface{}) {
	query := "SELECT id FROM " + table + " WHERE size = ?"
	args := []interface{}{file.Size}
	for _, col := range []struct {
		name  string
		value string
	}{{"sha1", file.SHA1}, {"md5", file.MD5}, {"crc", file.CRC}} {
		if col.value != "" {
			query += " AND " + col.name + " = ?"
			args = append(args, col.value)
		} else {
			query += " AND " + col.name + " IS NULL"
		}
	}
	return query + " ORDER BY id LIMIT 1", args
}

// nullable maps "" to NULL so absent digests and info fields stay absent in
// the store.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
