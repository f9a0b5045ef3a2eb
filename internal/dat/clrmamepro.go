package dat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/retronian/romidx/internal/db"
)

// ClrMamePro DATs are paren-grouped key/value text:
//
//	clrmamepro ( name "Set" description "..." version 1.0 )
//	game ( name pac cloneof puc rom ( name pac.bin size 4096 crc c1e6ab10 ) )
//
// The lexer below hands out four token kinds; the parser assembles blocks
// recursively and interprets the ones the index cares about.

type cmTokenKind int

const (
	cmWord cmTokenKind = iota
	cmOpen
	cmClose
	cmEOF
)

type cmLexer struct {
	r *bufio.Reader
}

func (l *cmLexer) next() (string, cmTokenKind, error) {
	// skip whitespace
	var c byte
	for {
		b, err := l.r.ReadByte()
		if errors.Is(err, io.EOF) {
			return "", cmEOF, nil
		}
		if err != nil {
			return "", cmEOF, err
		}
		if b != ' ' && b != '\t' && b != '\r' && b != '\n' {
			c = b
			break
		}
	}

	switch c {
	case '(':
		return "", cmOpen, nil
	case ')':
		return "", cmClose, nil
	case '"':
		var sb strings.Builder
		for {
			b, err := l.r.ReadByte()
			if err != nil {
				return "", cmEOF, fmt.Errorf("unterminated quoted string")
			}
			if b == '\\' {
				escaped, err := l.r.ReadByte()
				if err != nil {
					return "", cmEOF, fmt.Errorf("unterminated escape")
				}
				sb.WriteByte(escaped)
				continue
			}
			if b == '"' {
				return sb.String(), cmWord, nil
			}
			sb.WriteByte(b)
		}
	default:
		var sb strings.Builder
		sb.WriteByte(c)
		for {
			b, err := l.r.ReadByte()
			if errors.Is(err, io.EOF) {
				return sb.String(), cmWord, nil
			}
			if err != nil {
				return "", cmEOF, err
			}
			if b == ' ' || b == '\t' || b == '\r' || b == '\n' {
				return sb.String(), cmWord, nil
			}
			if b == '(' || b == ')' {
				l.r.UnreadByte()
				return sb.String(), cmWord, nil
			}
			sb.WriteByte(b)
		}
	}
}

// cmItem is one element of a block body: either a key/value pair or a named
// nested block.
type cmItem struct {
	key   string
	value string
	block []cmItem
}

// parseBlock consumes items until the closing paren.
func parseBlock(lex *cmLexer) ([]cmItem, error) {
	var items []cmItem
	for {
		key, kind, err := lex.next()
		if err != nil {
			return nil, err
		}
		switch kind {
		case cmClose, cmEOF:
			return items, nil
		case cmOpen:
			return nil, fmt.Errorf("unexpected open paren in block body")
		}

		value, kind, err := lex.next()
		if err != nil {
			return nil, err
		}
		switch kind {
		case cmOpen:
			body, err := parseBlock(lex)
			if err != nil {
				return nil, err
			}
			items = append(items, cmItem{key: key, block: body})
		case cmWord:
			items = append(items, cmItem{key: key, value: value})
		case cmClose:
			// trailing flag without a value
			items = append(items, cmItem{key: key})
			return items, nil
		case cmEOF:
			items = append(items, cmItem{key: key})
			return items, nil
		}
	}
}

func itemValue(items []cmItem, key string) string {
	for _, item := range items {
		if item.key == key && item.block == nil {
			return item.value
		}
	}
	return ""
}

func parseClrMamePro(r io.Reader, w db.DataWriter) error {
	lex := &cmLexer{r: bufio.NewReader(r)}
	for {
		name, kind, err := lex.next()
		if err != nil {
			return err
		}
		if kind == cmEOF {
			return nil
		}
		if kind != cmWord {
			return fmt.Errorf("expected block name, got paren")
		}

		_, kind, err = lex.next()
		if err != nil {
			return err
		}
		if kind != cmOpen {
			return fmt.Errorf("expected open paren after %q", name)
		}
		body, err := parseBlock(lex)
		if err != nil {
			return fmt.Errorf("parse %q block: %w", name, err)
		}

		switch name {
		case "clrmamepro", "clrmame":
			if err := w.SetInfo(headerFromBlock(body)); err != nil {
				return err
			}
		case "game", "machine", "set", "resource":
			if err := entryFromBlock(w, body); err != nil {
				return err
			}
		}
	}
}

func headerFromBlock(items []cmItem) db.DatInfo {
	var info db.DatInfo
	for _, item := range items {
		if item.block != nil {
			continue
		}
		switch item.key {
		case "name":
			info.Name = item.value
		case "description":
			info.Description = item.value
		case "version":
			info.Version = item.value
		default:
			info.Extras = append(info.Extras, db.ExtraData{Key: item.key, Value: item.value})
		}
	}
	return info
}

func entryFromBlock(w db.DataWriter, items []cmItem) error {
	game := db.Game{
		Name:         itemValue(items, "name"),
		CloneOf:      itemValue(items, "cloneof"),
		RomOf:        itemValue(items, "romof"),
		SourceFile:   itemValue(items, "sourcefile"),
		SampleOf:     itemValue(items, "sampleof"),
		Description:  itemValue(items, "description"),
		Year:         itemValue(items, "year"),
		Manufacturer: itemValue(items, "manufacturer"),
	}

	var roms, disks []db.DataFile
	var samples, deviceRefs []string
	for _, item := range items {
		switch {
		case item.key == "rom" && item.block != nil:
			rom := db.DataFile{
				Name:   itemValue(item.block, "name"),
				SHA1:   normalizeHex(itemValue(item.block, "sha1")),
				MD5:    normalizeHex(itemValue(item.block, "md5")),
				CRC:    normalizeHex(itemValue(item.block, "crc")),
				Size:   parseSize(itemValue(item.block, "size")),
				Status: itemValue(item.block, "flags"),
			}
			if rom.Status == "" {
				rom.Status = itemValue(item.block, "status")
			}
			if rom.Name == "" {
				log.Warn().Str("game", game.Name).Msg("skipping rom without a name")
				continue
			}
			roms = append(roms, rom)
		case item.key == "disk" && item.block != nil:
			disk := db.DataFile{
				Name:   itemValue(item.block, "name"),
				SHA1:   normalizeHex(itemValue(item.block, "sha1")),
				Region: itemValue(item.block, "region"),
				Status: itemValue(item.block, "status"),
			}
			if disk.Name == "" {
				log.Warn().Str("game", game.Name).Msg("skipping disk without a name")
				continue
			}
			disks = append(disks, disk)
		case item.key == "sample" && item.block == nil && item.value != "":
			samples = append(samples, item.value)
		case item.key == "device_ref" && item.block == nil && item.value != "":
			deviceRefs = append(deviceRefs, item.value)
		}
	}

	if len(samples) > 0 && game.SampleOf == "" {
		game.SampleOf = game.Name
	}

	if err := w.OnEntry(game, roms, disks, samples, deviceRefs); err != nil {
		if errors.Is(err, db.ErrMalformed) {
			log.Warn().Err(err).Str("game", game.Name).Msg("skipping malformed entry")
			return nil
		}
		return err
	}
	return nil
}
