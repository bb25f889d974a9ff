// Command sdfat is a shell for FAT-formatted card images and block devices:
// the host-side counterpart of the serial console shell that ships with the
// embedded builds. Every invocation mounts the image, runs one command and
// unmounts.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soypat/sdfat"
	"github.com/soypat/sdfat/blockfile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sdfat:", err)
		os.Exit(1)
	}
}

var (
	imagePath string
	readOnly  bool
)

func run() error {
	root := &cobra.Command{
		Use:   "sdfat",
		Short: "sdfat - browse and edit FAT card images",
	}
	root.PersistentFlags().StringVarP(&imagePath, "image", "i", "", "disk image or block device")
	root.PersistentFlags().BoolVar(&readOnly, "ro", false, "open the image read-only")
	root.MarkPersistentFlagRequired("image")

	root.AddCommand(
		lsCmd(), catCmd(), headCmd(), hexdumpCmd(), statCmd(),
		dfCmd(), infoCmd(), treeCmd(), findCmd(),
		mkdirCmd(), rmdirCmd(), rmCmd(), mvCmd(), touchCmd(), writeCmd(),
	)
	return root.Execute()
}

// withMount mounts the image, runs fn and unmounts.
func withMount(write bool, fn func(fsys *sdfat.FS) error) error {
	if write && readOnly {
		return fmt.Errorf("%s: write command on read-only image", imagePath)
	}
	dev, err := blockfile.Open(imagePath, readOnly)
	if err != nil {
		return err
	}
	defer dev.Close()
	mode := sdfat.ModeRead
	if !readOnly {
		mode = sdfat.ModeRW
	}
	var fsys sdfat.FS
	fsys.SetWallClock(time.Now)
	if err := fsys.Mount(dev, mode); err != nil {
		return err
	}
	defer fsys.Unmount()
	if err := fn(&fsys); err != nil {
		return err
	}
	return nil
}

func arg0(args []string, def string) string {
	if len(args) > 0 {
		return args[0]
	}
	return def
}
