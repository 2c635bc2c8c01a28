// Command a1fs mounts an a1fs image at a mount point via FUSE.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	a1fs "github.com/vesteny77/file-system"
	"github.com/vesteny77/file-system/internal/disk"
	"github.com/vesteny77/file-system/internal/fuseadapter"
)

var log = logrus.WithField("component", "a1fs")

func main() {
	app := &cli.App{
		Name:      "a1fs",
		Usage:     "Mount an a1fs image",
		ArgsUsage: "IMAGE_PATH MOUNT_POINT",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "log every FUSE call"},
		},
		Action: mount,
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Error("mount failed")
		os.Exit(1)
	}
}

func mount(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("expected two arguments: IMAGE_PATH MOUNT_POINT", 1)
	}
	imagePath := c.Args().Get(0)
	mountPoint := c.Args().Get(1)

	file, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening image: %s", err), 1)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return cli.Exit(fmt.Sprintf("stat image: %s", err), 1)
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return cli.Exit(fmt.Sprintf("mapping image: %s", err), 1)
	}
	defer unix.Munmap(data)

	if sb, err := disk.ReadSuperblock(data[:disk.SuperblockSize]); err != nil || sb.Magic != disk.Magic {
		return cli.Exit("image is not a1fs (magic mismatch)", 1)
	}

	driver, err := a1fs.Open(data)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening driver: %s", err), 1)
	}

	nfs := pathfs.NewPathNodeFs(fuseadapter.New(driver), nil)
	server, _, err := nodefs.MountRoot(mountPoint, nfs.Root(), &nodefs.Options{Debug: c.Bool("debug")})
	if err != nil {
		return cli.Exit(fmt.Sprintf("mounting: %s", err), 1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("received shutdown signal, unmounting")
		if err := server.Unmount(); err != nil {
			log.WithError(err).Warn("unmount failed")
		}
	}()

	log.WithFields(logrus.Fields{"image": imagePath, "mount_point": mountPoint}).Info("mounted")
	server.Serve()
	return nil
}
