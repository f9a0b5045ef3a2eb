package db

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// ErrMalformed marks entries that lack required fields. Callers skip the
// entry and keep streaming; every other writer error is fatal for the
// session.
var ErrMalformed = errors.New("malformed entry")

// DefaultBufferSize is the entry threshold used when callers don't tune it.
const DefaultBufferSize uint16 = 5000

// idCounter hands out dense ids for rows that are not yet committed. It
// seeds from max(id)+1 of the committed table so buffered ids never collide
// with stored ones.
type idCounter struct {
	nextRom  int64
	nextDisk int64
}

func (c *idCounter) getNextRom() int64 {
	id := c.nextRom
	c.nextRom++
	return id
}

func (c *idCounter) getNextDisk() int64 {
	id := c.nextDisk
	c.nextDisk++
	return id
}

type romRef struct {
	id   int64
	name string
}

// buffer accumulates parsed entries between flushes. Its size is the number
// of buffered games plus the number of buffered sample sets.
type buffer struct {
	ids   idCounter
	games map[string]*Game

	roms      map[digestKey]int64
	romFiles  map[digestKey]DataFile
	gameRoms  map[string][]romRef
	disks     map[string]int64
	diskFiles map[string]DataFile
	gameDisks map[string][]romRef
	samples   map[string]map[string]struct{}
	devices   map[string][]string
}

func newBuffer() *buffer {
	return &buffer{
		games:     make(map[string]*Game),
		roms:      make(map[digestKey]int64),
		romFiles:  make(map[digestKey]DataFile),
		gameRoms:  make(map[string][]romRef),
		disks:     make(map[string]int64),
		diskFiles: make(map[string]DataFile),
		gameDisks: make(map[string][]romRef),
		samples:   make(map[string]map[string]struct{}),
		devices:   make(map[string][]string),
	}
}

func (b *buffer) len() int {
	return len(b.games) + len(b.samples)
}

func (b *buffer) addGame(game *Game) {
	b.games[game.Name] = game
}

// addRom returns the buffered id for the file, allocating one on first
// sighting of a new digest tuple.
func (b *buffer) addRom(file DataFile) int64 {
	key := file.key()
	if id, ok := b.roms[key]; ok {
		return id
	}
	id := b.ids.getNextRom()
	b.roms[key] = id
	b.romFiles[key] = file
	return id
}

func (b *buffer) addDisk(file DataFile) int64 {
	if id, ok := b.disks[file.SHA1]; ok {
		return id
	}
	id := b.ids.getNextDisk()
	b.disks[file.SHA1] = id
	b.diskFiles[file.SHA1] = file
	return id
}

func (b *buffer) addSamplePack(pack string, samples []string) {
	set, ok := b.samples[pack]
	if !ok {
		set = make(map[string]struct{})
		b.samples[pack] = set
	}
	for _, s := range samples {
		set[s] = struct{}{}
	}
}

func (b *buffer) clear() {
	b.games = make(map[string]*Game)
	b.roms = make(map[digestKey]int64)
	b.romFiles = make(map[digestKey]DataFile)
	b.gameRoms = make(map[string][]romRef)
	b.disks = make(map[string]int64)
	b.diskFiles = make(map[string]DataFile)
	b.gameDisks = make(map[string][]romRef)
	b.samples = make(map[string]map[string]struct{})
	b.devices = make(map[string][]string)
}

// Writer is the streaming ingest engine. Feed it entries one at a time; it
// decides flush cadence. The atomicity boundary for callers is Finish.
type Writer struct {
	db         *DB
	buf        *buffer
	bufferSize uint16
}

var _ DataWriter = (*Writer)(nil)

func NewWriter(d *DB, bufferSize uint16) *Writer {
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	w := &Writer{db: d, buf: newBuffer(), bufferSize: bufferSize}
	// Best-effort seed for stores that already carry committed ids; Init
	// reseeds after resetting the schema.
	if err := w.seedCounters(); err != nil {
		log.Debug().Err(err).Msg("id counters start at zero")
	}
	return w
}

// Init resets the store to an empty schema and seeds the buffer id counters.
func (w *Writer) Init() error {
	if err := w.db.Init(); err != nil {
		return err
	}
	return w.seedCounters()
}

func (w *Writer) seedCounters() error {
	if err := w.db.QueryRow(`SELECT COALESCE(MAX(id) + 1, 0) FROM roms`).Scan(&w.buf.ids.nextRom); err != nil {
		return fmt.Errorf("seed rom id counter: %w", err)
	}
	if err := w.db.QueryRow(`SELECT COALESCE(MAX(id) + 1, 0) FROM disks`).Scan(&w.buf.ids.nextDisk); err != nil {
		return fmt.Errorf("seed disk id counter: %w", err)
	}
	return nil
}

// SetInfo records the dataset header. Extras become additional info rows
// keyed by name, after the header row.
func (w *Writer) SetInfo(info DatInfo) error {
	if _, err := w.db.Exec(`INSERT INTO info (name, description, version) VALUES (?, ?, ?)`,
		info.Name, info.Description, info.Version); err != nil {
		return fmt.Errorf("insert info row: %w", err)
	}
	for _, extra := range info.Extras {
		if _, err := w.db.Exec(`INSERT INTO info (name, description, version) VALUES (?, ?, NULL)`,
			extra.Key, extra.Value); err != nil {
			return fmt.Errorf("insert info extra %q: %w", extra.Key, err)
		}
	}
	return nil
}

// OnEntry buffers one parsed game with its roms, disks, samples and device
// refs. A malformed entry is reported and can be skipped by the caller.
func (w *Writer) OnEntry(game Game, roms []DataFile, disks []DataFile, samples []string, deviceRefs []string) error {
	if game.Name == "" {
		return fmt.Errorf("entry without a game name: %w", ErrMalformed)
	}
	if game.CloneOf == game.Name {
		return fmt.Errorf("game %q declares itself as clone_of: %w", game.Name, ErrMalformed)
	}

	w.buf.addGame(&game)

	romRefs, err := w.getRomIDs(roms)
	if err != nil {
		return err
	}
	w.buf.gameRoms[game.Name] = romRefs

	diskRefs, err := w.getDiskIDs(disks)
	if err != nil {
		return err
	}
	if len(diskRefs) > 0 {
		w.buf.gameDisks[game.Name] = diskRefs
	}

	if game.SampleOf != "" {
		w.buf.addSamplePack(game.SampleOf, samples)
	}
	if len(deviceRefs) > 0 {
		w.buf.devices[game.Name] = append(w.buf.devices[game.Name], deviceRefs...)
	}

	if w.buf.len() >= int(w.bufferSize) {
		return w.writeBuffer()
	}
	return nil
}

// getRomIDs resolves each rom to an id: committed store first, then the
// session buffer, else a freshly allocated id. The resulting (id, name)
// pairs are sorted and deduplicated so flush order is deterministic and the
// same membership row is never inserted twice.
func (w *Writer) getRomIDs(roms []DataFile) ([]romRef, error) {
	refs := make([]romRef, 0, len(roms))
	for _, rom := range roms {
		id, found, err := w.db.lookupROMID(rom)
		if err != nil {
			return nil, err
		}
		if !found {
			id = w.buf.addRom(rom)
		}
		refs = append(refs, romRef{id: id, name: rom.Name})
	}
	return dedupRefs(refs), nil
}

func (w *Writer) getDiskIDs(disks []DataFile) ([]romRef, error) {
	refs := make([]romRef, 0, len(disks))
	for _, disk := range disks {
		id, found, err := w.db.lookupDiskID(disk)
		if err != nil {
			return nil, err
		}
		if !found {
			id = w.buf.addDisk(disk)
		}
		refs = append(refs, romRef{id: id, name: disk.Name})
	}
	return dedupRefs(refs), nil
}

func dedupRefs(refs []romRef) []romRef {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].id != refs[j].id {
			return refs[i].id < refs[j].id
		}
		return refs[i].name < refs[j].name
	})
	out := refs[:0]
	for _, r := range refs {
		if len(out) > 0 && r == out[len(out)-1] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// writeBuffer commits everything buffered in one transaction. Game and
// content-row failures abort the batch; membership, sample and device row
// failures are logged and the batch continues.
func (w *Writer) writeBuffer() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	gameNames := make([]string, 0, len(w.buf.games))
	for name := range w.buf.games {
		gameNames = append(gameNames, name)
	}
	sort.Strings(gameNames)
	for _, name := range gameNames {
		game := w.buf.games[name]
		_, err := tx.Exec(`INSERT INTO games (name, clone_of, rom_of, source_file, sample_of, info_desc, info_year, info_manuf)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			game.Name, nullable(game.CloneOf), nullable(game.RomOf), nullable(game.SourceFile),
			nullable(game.SampleOf), nullable(game.Description), nullable(game.Year), nullable(game.Manufacturer))
		if err != nil {
			return fmt.Errorf("insert game %q: %w", game.Name, err)
		}
	}

	for key, id := range w.buf.roms {
		rom := w.buf.romFiles[key]
		_, err := tx.Exec(`INSERT INTO roms (id, sha1, md5, crc, size, status) VALUES (?, ?, ?, ?, ?, ?)`,
			id, nullable(rom.SHA1), nullable(rom.MD5), nullable(rom.CRC), rom.Size, nullable(rom.Status))
		if err != nil {
			return fmt.Errorf("insert rom %d: %w", id, err)
		}
	}

	for sha1, id := range w.buf.disks {
		disk := w.buf.diskFiles[sha1]
		_, err := tx.Exec(`INSERT INTO disks (id, sha1, region, status) VALUES (?, ?, ?, ?)`,
			id, nullable(disk.SHA1), nullable(disk.Region), nullable(disk.Status))
		if err != nil {
			return fmt.Errorf("insert disk %d: %w", id, err)
		}
	}

	for gameName, refs := range w.buf.gameRoms {
		for _, ref := range refs {
			_, err := tx.Exec(`INSERT INTO game_roms (game_name, rom_id, name) VALUES (?, ?, ?)`,
				gameName, ref.id, ref.name)
			if err != nil {
				log.Error().Err(err).Str("game", gameName).Int64("rom_id", ref.id).Str("rom", ref.name).
					Msg("adding rom to game")
				continue
			}
			log.Debug().Str("game", gameName).Int64("rom_id", ref.id).Str("rom", ref.name).Msg("inserted game rom")
		}
	}

	for gameName, refs := range w.buf.gameDisks {
		for _, ref := range refs {
			if _, err := tx.Exec(`INSERT INTO game_disks (game_name, disk_id) VALUES (?, ?)`,
				gameName, ref.id); err != nil {
				log.Error().Err(err).Str("game", gameName).Int64("disk_id", ref.id).Msg("adding disk to game")
			}
		}
	}

	for pack, samples := range w.buf.samples {
		for sample := range samples {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO samples (sample_set, sample) VALUES (?, ?)`,
				pack, sample); err != nil {
				log.Error().Err(err).Str("sample_set", pack).Str("sample", sample).Msg("adding sample")
			}
		}
	}

	for gameName, refs := range w.buf.devices {
		for _, ref := range refs {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO devices (game_name, device_ref) VALUES (?, ?)`,
				gameName, ref); err != nil {
				log.Error().Err(err).Str("game", gameName).Str("device", ref).Msg("adding device ref")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush transaction: %w", err)
	}
	w.buf.clear()
	return nil
}

// Finish flushes the remaining buffer, verifies the clone graph and runs the
// parent back-fill over memberships.
func (w *Writer) Finish() error {
	if err := w.writeBuffer(); err != nil {
		return err
	}
	if err := w.checkCloneGraph(); err != nil {
		return err
	}
	if err := w.fillROMParents(); err != nil {
		return err
	}
	return w.fillDiskParents()
}

// checkCloneGraph walks every clone_of chain and rejects cycles. The graph
// is name-keyed, so a chain either reaches a root or revisits a node.
func (w *Writer) checkCloneGraph() error {
	rows, err := w.db.Query(`SELECT name, clone_of FROM games WHERE clone_of IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("read clone edges: %w", err)
	}
	defer rows.Close()

	parents := make(map[string]string)
	for rows.Next() {
		var name, cloneOf string
		if err := rows.Scan(&name, &cloneOf); err != nil {
			return fmt.Errorf("scan clone edge: %w", err)
		}
		parents[name] = cloneOf
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read clone edges: %w", err)
	}

	cleared := make(map[string]bool)
	for start := range parents {
		if cleared[start] {
			continue
		}
		onPath := make(map[string]bool)
		for cur := start; ; {
			if onPath[cur] {
				return fmt.Errorf("clone graph cycle through %q", cur)
			}
			onPath[cur] = true
			next, ok := parents[cur]
			if !ok || cleared[cur] {
				break
			}
			cur = next
		}
		for name := range onPath {
			cleared[name] = true
		}
	}
	return nil
}

type parentFill struct {
	gameName string
	id       int64
	parent   string
}

func (w *Writer) fillROMParents() error {
	fills, err := w.collectParentFills(
		`SELECT games.name, game_roms.rom_id, game_roms.game_name FROM game_roms
			JOIN games ON games.clone_of = game_roms.game_name
			WHERE games.clone_of IS NOT NULL`)
	if err != nil {
		return err
	}
	return w.applyParentFills(`UPDATE game_roms SET parent = ? WHERE game_name = ? AND rom_id = ?`, fills)
}

func (w *Writer) fillDiskParents() error {
	fills, err := w.collectParentFills(
		`SELECT games.name, game_disks.disk_id, game_disks.game_name FROM game_disks
			JOIN games ON games.clone_of = game_disks.game_name
			WHERE games.clone_of IS NOT NULL`)
	if err != nil {
		return err
	}
	return w.applyParentFills(`UPDATE game_disks SET parent = ? WHERE game_name = ? AND disk_id = ?`, fills)
}

func (w *Writer) collectParentFills(query string) ([]parentFill, error) {
	rows, err := w.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("join games with parent memberships: %w", err)
	}
	defer rows.Close()

	var fills []parentFill
	for rows.Next() {
		var f parentFill
		if err := rows.Scan(&f.gameName, &f.id, &f.parent); err != nil {
			return nil, fmt.Errorf("scan parent fill: %w", err)
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("join games with parent memberships: %w", err)
	}
	return fills, nil
}

func (w *Writer) applyParentFills(query string, fills []parentFill) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin back-fill transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range fills {
		result, err := tx.Exec(query, f.parent, f.gameName, f.id)
		if err != nil {
			return fmt.Errorf("set parent %q on %q: %w", f.parent, f.gameName, err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 1 {
			// More than one row per (game, id) only happens when digest-less
			// nodump entries collapse onto one id.
			log.Debug().Str("game", f.gameName).Int64("id", f.id).Str("parent", f.parent).
				Int64("rows", n).Msg("parent update hit multiple rows")
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit back-fill transaction: %w", err)
	}
	return nil
}
