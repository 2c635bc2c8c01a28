// Command mkfs-a1fs formats an image file with a fresh, empty a1fs file
// system.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/format"
)

var log = logrus.WithField("component", "mkfs-a1fs")

func main() {
	app := &cli.App{
		Name:      "mkfs-a1fs",
		Usage:     "Create or wipe an a1fs image",
		ArgsUsage: "IMAGE_PATH",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "inodes", Aliases: []string{"i"}, Usage: "number of inodes to reserve"},
			&cli.StringFlag{Name: "preset", Usage: "use a named geometry instead of -inodes (see presets.csv)"},
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "overwrite an image that is already a1fs"},
			&cli.BoolFlag{Name: "zero", Usage: "zero the entire image before formatting, not just the metadata regions"},
		},
		Action: formatImage,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("format failed")
		os.Exit(1)
	}
}

func formatImage(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one argument: the image path", 1)
	}
	path := c.Args().Get(0)

	inodeCount := uint32(c.Uint("inodes"))
	if preset := c.String("preset"); preset != "" {
		g, err := lookupPreset(preset)
		if err != nil {
			return cli.Exit(err, 1)
		}
		inodeCount = g.InodeCount
		log.WithFields(logrus.Fields{"preset": preset, "size": g.SizeBytes, "inodes": g.InodeCount}).
			Info("using predefined geometry")
	}
	if inodeCount == 0 {
		return cli.Exit("inode count must be non-zero (pass -inodes or -preset)", 1)
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening image: %s", err), 1)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return cli.Exit(fmt.Sprintf("stat image: %s", err), 1)
	}
	if info.Size() == 0 || info.Size()%disk.BlockSize != 0 {
		return cli.Exit(fmt.Sprintf("image size %d is not a non-zero multiple of %d", info.Size(), disk.BlockSize), 1)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return cli.Exit(fmt.Sprintf("mapping image: %s", err), 1)
	}
	defer unix.Munmap(data)

	if !c.Bool("force") {
		if sb, err := disk.ReadSuperblock(data[:disk.SuperblockSize]); err == nil && sb.Magic == disk.Magic {
			return cli.Exit("image is already a1fs; pass -force to overwrite", 1)
		}
	}

	layout, err := format.Format(data, format.Options{InodeCount: inodeCount, Zero: c.Bool("zero")})
	if err != nil {
		return cli.Exit(fmt.Sprintf("format: %s", err), 1)
	}

	log.WithFields(logrus.Fields{
		"total_blocks":       layout.TotalBlocks,
		"inode_count":        layout.InodeCount,
		"data_region_blocks": layout.DataRegionBlocks,
	}).Info("formatted image")
	return nil
}
