package main

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// Geometry is one named, predefined image size / inode count pairing, the
// way disks.DiskGeometry names predefined floppy formats.
type Geometry struct {
	Slug       string `csv:"slug"`
	SizeBytes  uint64 `csv:"size_bytes"`
	InodeCount uint32 `csv:"inode_count"`
	Notes      string `csv:"notes"`
}

//go:embed presets.csv
var presetsRawCSV string

var presets map[string]Geometry

func init() {
	presets = make(map[string]Geometry)
	reader := strings.NewReader(presetsRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row Geometry) error {
		if _, exists := presets[row.Slug]; exists {
			return fmt.Errorf("duplicate preset slug %q", row.Slug)
		}
		presets[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}

func lookupPreset(slug string) (Geometry, error) {
	g, ok := presets[slug]
	if !ok {
		return Geometry{}, fmt.Errorf("no predefined geometry named %q", slug)
	}
	return g, nil
}
