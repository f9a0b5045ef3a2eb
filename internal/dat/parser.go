package dat

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"github.com/ulikunitz/xz"

	"github.com/retronian/romidx/internal/db"
)

// Import runs the full ingest lifecycle over one DAT file: it initializes
// the writer, streams every entry into it and finalizes. The file may be a
// plain Logiqx/MAME XML DAT, a ClrMamePro text DAT, or either wrapped in a
// .zip or .xz container.
func Import(path string, w db.DataWriter) error {
	r, err := open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := w.Init(); err != nil {
		return err
	}

	br := bufio.NewReader(r)
	if isXML(br) {
		err = parseXML(br, w)
	} else {
		err = parseClrMamePro(br, w)
	}
	if err != nil {
		return fmt.Errorf("parse DAT %q: %w", path, err)
	}
	return w.Finish()
}

// open returns a reader over the DAT payload, unwrapping zip and xz
// containers. DAT distributions commonly ship one file per archive.
func open(path string) (io.ReadCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return openZippedDAT(path)
	case ".xz":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open DAT: %w", err)
		}
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open xz DAT %q: %w", path, err)
		}
		return &wrappedReader{Reader: xr, closer: f}, nil
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open DAT: %w", err)
		}
		return f, nil
	}
}

func openZippedDAT(path string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zipped DAT %q: %w", path, err)
	}
	for _, member := range zr.File {
		ext := strings.ToLower(filepath.Ext(member.Name))
		if ext != ".dat" && ext != ".xml" {
			continue
		}
		rc, err := member.Open()
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("open DAT member %q: %w", member.Name, err)
		}
		return &wrappedReader{Reader: rc, closer: &doubleCloser{rc, zr}}, nil
	}
	zr.Close()
	return nil, fmt.Errorf("no .dat or .xml member in %q", path)
}

type wrappedReader struct {
	io.Reader
	closer io.Closer
}

func (w *wrappedReader) Close() error { return w.closer.Close() }

type doubleCloser struct {
	inner io.Closer
	outer io.Closer
}

func (d *doubleCloser) Close() error {
	err := d.inner.Close()
	if cerr := d.outer.Close(); err == nil {
		err = cerr
	}
	return err
}

// isXML peeks past whitespace and an optional BOM for an opening angle
// bracket. Anything else is treated as a ClrMamePro text DAT.
func isXML(br *bufio.Reader) bool {
	peek, _ := br.Peek(512)
	trimmed := strings.TrimLeft(string(peek), "\xef\xbb\xbf \t\r\n")
	return strings.HasPrefix(trimmed, "<")
}

type xmlRom struct {
	Name   string `xml:"name,attr"`
	Size   string `xml:"size,attr"`
	CRC    string `xml:"crc,attr"`
	MD5    string `xml:"md5,attr"`
	SHA1   string `xml:"sha1,attr"`
	Status string `xml:"status,attr"`
	Merge  string `xml:"merge,attr"`
}

type xmlDisk struct {
	Name   string `xml:"name,attr"`
	SHA1   string `xml:"sha1,attr"`
	MD5    string `xml:"md5,attr"`
	Region string `xml:"region,attr"`
	Status string `xml:"status,attr"`
}

type xmlSample struct {
	Name string `xml:"name,attr"`
}

type xmlDeviceRef struct {
	Name string `xml:"name,attr"`
}

type xmlGame struct {
	Name         string         `xml:"name,attr"`
	SourceFile   string         `xml:"sourcefile,attr"`
	CloneOf      string         `xml:"cloneof,attr"`
	RomOf        string         `xml:"romof,attr"`
	SampleOf     string         `xml:"sampleof,attr"`
	Description  string         `xml:"description"`
	Year         string         `xml:"year"`
	Manufacturer string         `xml:"manufacturer"`
	Roms         []xmlRom       `xml:"rom"`
	Disks        []xmlDisk      `xml:"disk"`
	Samples      []xmlSample    `xml:"sample"`
	DeviceRefs   []xmlDeviceRef `xml:"device_ref"`
}

// parseXML walks the token stream so the whole DAT never sits in memory;
// MAME full lists run to hundreds of megabytes.
func parseXML(r io.Reader, w db.DataWriter) error {
	dec := xml.NewDecoder(r)
	dec.Strict = false // some DATs carry a DTD reference

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "header":
			info, err := parseHeader(dec, start)
			if err != nil {
				return err
			}
			if err := w.SetInfo(info); err != nil {
				return err
			}
		case "game", "machine":
			var g xmlGame
			if err := dec.DecodeElement(&g, &start); err != nil {
				return fmt.Errorf("decode game element: %w", err)
			}
			if err := emitEntry(w, g); err != nil {
				return err
			}
		}
	}
}

// parseHeader collects the known dataset fields and keeps everything else as
// free-form extra data, in document order.
func parseHeader(dec *xml.Decoder, start xml.StartElement) (db.DatInfo, error) {
	var info db.DatInfo
	for {
		tok, err := dec.Token()
		if err != nil {
			return info, fmt.Errorf("read header token: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			var value string
			if err := dec.DecodeElement(&value, &el); err != nil {
				return info, fmt.Errorf("decode header field %q: %w", el.Name.Local, err)
			}
			switch el.Name.Local {
			case "name":
				info.Name = value
			case "description":
				info.Description = value
			case "version":
				info.Version = value
			default:
				info.Extras = append(info.Extras, db.ExtraData{Key: el.Name.Local, Value: value})
			}
		case xml.EndElement:
			if el.Name == start.Name {
				return info, nil
			}
		}
	}
}

// emitEntry converts one parsed game element and hands it to the writer. A
// malformed entry is logged and skipped; the stream continues.
func emitEntry(w db.DataWriter, g xmlGame) error {
	game := db.Game{
		Name:         g.Name,
		CloneOf:      g.CloneOf,
		RomOf:        g.RomOf,
		SourceFile:   g.SourceFile,
		SampleOf:     g.SampleOf,
		Description:  g.Description,
		Year:         g.Year,
		Manufacturer: g.Manufacturer,
	}

	roms := make([]db.DataFile, 0, len(g.Roms))
	for _, rom := range g.Roms {
		if rom.Name == "" {
			log.Warn().Str("game", g.Name).Msg("skipping rom without a name")
			continue
		}
		roms = append(roms, db.DataFile{
			Name:   rom.Name,
			SHA1:   normalizeHex(rom.SHA1),
			MD5:    normalizeHex(rom.MD5),
			CRC:    normalizeHex(rom.CRC),
			Size:   parseSize(rom.Size),
			Status: rom.Status,
		})
	}

	disks := make([]db.DataFile, 0, len(g.Disks))
	for _, disk := range g.Disks {
		if disk.Name == "" {
			log.Warn().Str("game", g.Name).Msg("skipping disk without a name")
			continue
		}
		disks = append(disks, db.DataFile{
			Name:   disk.Name,
			SHA1:   normalizeHex(disk.SHA1),
			MD5:    normalizeHex(disk.MD5),
			Region: disk.Region,
			Status: disk.Status,
		})
	}

	samples := make([]string, 0, len(g.Samples))
	for _, sample := range g.Samples {
		if sample.Name != "" {
			samples = append(samples, sample.Name)
		}
	}
	// Games with samples and no explicit sampleof own their pack.
	if len(samples) > 0 && game.SampleOf == "" {
		game.SampleOf = game.Name
	}

	deviceRefs := make([]string, 0, len(g.DeviceRefs))
	for _, ref := range g.DeviceRefs {
		if ref.Name != "" {
			deviceRefs = append(deviceRefs, ref.Name)
		}
	}

	if err := w.OnEntry(game, roms, disks, samples, deviceRefs); err != nil {
		if errors.Is(err, db.ErrMalformed) {
			log.Warn().Err(err).Str("game", g.Name).Msg("skipping malformed entry")
			return nil
		}
		return err
	}
	return nil
}

func normalizeHex(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func parseSize(s string) int64 {
	if s == "" {
		return 0
	}
	size, err := strconv.ParseInt(s, 10, 64)
	if err != nil || size < 0 {
		return 0
	}
	return size
}
