package audit

import (
	"fmt"
	"strings"

	"github.com/retronian/romidx/internal/db"
)

// FileRename is an observed file whose content belongs to a set under a
// different name.
type FileRename struct {
	From db.DataFile
	To   string
}

// SetReport classifies a container's files against one candidate set: what
// is already right, what only needs renaming, what the set still lacks and
// what doesn't belong in it.
type SetReport struct {
	Name     string
	Have     []db.DataFile
	ToRename []FileRename
	Missing  []db.DataFile
	Unneeded []db.DataFile
}

// Complete reports whether the set needs nothing beyond renames.
func (s *SetReport) Complete() bool {
	return len(s.Missing) == 0
}

func (s *SetReport) String() string {
	var sb strings.Builder
	sb.WriteString(s.Name)
	if len(s.Have) > 0 {
		sb.WriteString("\nRoms:")
		for _, rom := range s.Have {
			fmt.Fprintf(&sb, "\n    - %s", rom)
		}
	}
	if len(s.ToRename) > 0 {
		sb.WriteString("\nTo Rename:")
		for _, rename := range s.ToRename {
			fmt.Fprintf(&sb, "\n    - %s => %s", rename.From, rename.To)
		}
	}
	if len(s.Missing) > 0 {
		sb.WriteString("\nMissing:")
		for _, rom := range s.Missing {
			fmt.Fprintf(&sb, "\n    - %s", rom)
		}
	}
	if len(s.Unneeded) > 0 {
		sb.WriteString("\nUnneeded:")
		for _, rom := range s.Unneeded {
			fmt.Fprintf(&sb, "\n    - %s", rom)
		}
	}
	return sb.String()
}

// FileReport is the audit of one scanned container (a loose file or a zip).
type FileReport struct {
	FileName string
	Sets     []SetReport
	Unknown  []string
}

func (f *FileReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "File name: %s\n", f.FileName)
	for i := range f.Sets {
		fmt.Fprintf(&sb, "- Set: %s\n", &f.Sets[i])
	}
	if len(f.Unknown) > 0 {
		sb.WriteString("Unknown files:\n")
		for _, name := range f.Unknown {
			fmt.Fprintf(&sb, "- %s\n", name)
		}
	}
	return sb.String()
}

// Report aggregates the audit of a whole scan.
type Report struct {
	Files []FileReport
}

func (r *Report) String() string {
	var sb strings.Builder
	for i := range r.Files {
		fmt.Fprintf(&sb, "%s\n", &r.Files[i])
	}
	return sb.String()
}
