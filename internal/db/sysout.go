package db

import (
	"fmt"
	"io"
)

// SysOutWriter is a DataWriter that prints entries instead of persisting
// them. It backs dry-run imports.
type SysOutWriter struct {
	out io.Writer
}

var _ DataWriter = (*SysOutWriter)(nil)

func NewSysOutWriter(out io.Writer) *SysOutWriter {
	return &SysOutWriter{out: out}
}

func (w *SysOutWriter) Init() error { return nil }

func (w *SysOutWriter) SetInfo(info DatInfo) error {
	fmt.Fprintf(w.out, "%s (%s) %s\n", info.Name, info.Version, info.Description)
	return nil
}

func (w *SysOutWriter) OnEntry(game Game, roms []DataFile, disks []DataFile, samples []string, deviceRefs []string) error {
	fmt.Fprintf(w.out, "game %s\n", game.Name)
	for _, rom := range roms {
		fmt.Fprintf(w.out, "  rom %s\n", rom)
	}
	for _, disk := range disks {
		fmt.Fprintf(w.out, "  disk %s\n", disk)
	}
	for _, sample := range samples {
		fmt.Fprintf(w.out, "  sample %s\n", sample)
	}
	for _, ref := range deviceRefs {
		fmt.Fprintf(w.out, "  device %s\n", ref)
	}
	return nil
}

func (w *SysOutWriter) Finish() error { return nil }
