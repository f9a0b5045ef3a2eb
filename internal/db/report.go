package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// DBReport summarizes a persisted index: the dataset header plus row counts.
type DBReport struct {
	DatInfo     DatInfo
	Games       int64
	Roms        int64
	RomsInGames int64
	Samples     int64
	DeviceRefs  int64
}

func (rep *DBReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\n", rep.DatInfo.Name)
	fmt.Fprintf(&sb, "Description: %s\n", rep.DatInfo.Description)
	fmt.Fprintf(&sb, "Version: %s\n", rep.DatInfo.Version)
	for _, extra := range rep.DatInfo.Extras {
		fmt.Fprintf(&sb, "%s: %s\n", extra.Key, extra.Value)
	}
	fmt.Fprintf(&sb, "\nGames: %d\n", rep.Games)
	fmt.Fprintf(&sb, "Roms: %d\n", rep.Roms)
	fmt.Fprintf(&sb, "Roms in Games: %d\n", rep.RomsInGames)
	fmt.Fprintf(&sb, "Samples: %d\n", rep.Samples)
	fmt.Fprintf(&sb, "Device Refs: %d\n", rep.DeviceRefs)
	return sb.String()
}

// GetDBReport reads the dataset header and counts. The first info row is the
// header; rows without a version are free-form extras.
func (r *Reader) GetDBReport() (*DBReport, error) {
	rep := &DBReport{}

	rows, err := r.db.Query(`SELECT name, description, version FROM info ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("read info table: %w", err)
	}
	defer rows.Close()

	first := true
	for rows.Next() {
		var name, description, version sql.NullString
		if err := rows.Scan(&name, &description, &version); err != nil {
			return nil, fmt.Errorf("scan info row: %w", err)
		}
		if first {
			rep.DatInfo.Name = name.String
			rep.DatInfo.Description = description.String
			rep.DatInfo.Version = version.String
			first = false
			continue
		}
		rep.DatInfo.Extras = append(rep.DatInfo.Extras, ExtraData{Key: name.String, Value: description.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read info table: %w", err)
	}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM games`, &rep.Games},
		{`SELECT COUNT(*) FROM roms`, &rep.Roms},
		{`SELECT COUNT(*) FROM game_roms`, &rep.RomsInGames},
		{`SELECT COUNT(*) FROM samples`, &rep.Samples},
		{`SELECT COUNT(*) FROM devices`, &rep.DeviceRefs},
	}
	for _, c := range counts {
		if err := r.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count rows: %w", err)
		}
	}
	return rep, nil
}
