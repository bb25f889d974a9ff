package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soypat/sdfat"
)

func lsCmd() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "list a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(false, func(fsys *sdfat.FS) error {
				var dir sdfat.Dir
				if err := fsys.OpenDir(&dir, arg0(args, "/")); err != nil {
					return err
				}
				defer dir.Close()
				return dir.ForEachFile(func(fi *sdfat.FileInfo) error {
					if long {
						kind := "-"
						if fi.IsDir() {
							kind = "d"
						}
						fmt.Printf("%s %10s  %s  %s\n", kind, sizeString(fi.Size()),
							fi.ModTime().Format("2006-01-02 15:04"), fi.Name())
					} else {
						fmt.Println(fi.Name())
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "long listing")
	return cmd
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(false, func(fsys *sdfat.FS) error {
				var f sdfat.File
				if err := fsys.OpenFile(&f, args[0], sdfat.ModeRead); err != nil {
					return err
				}
				defer f.Close()
				_, err := io.Copy(os.Stdout, &f)
				return err
			})
		},
	}
}

func headCmd() *cobra.Command {
	var n int64
	cmd := &cobra.Command{
		Use:   "head <path>",
		Short: "print the first bytes of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(false, func(fsys *sdfat.FS) error {
				var f sdfat.File
				if err := fsys.OpenFile(&f, args[0], sdfat.ModeRead); err != nil {
					return err
				}
				defer f.Close()
				_, err := io.Copy(os.Stdout, io.LimitReader(&f, n))
				return err
			})
		},
	}
	cmd.Flags().Int64VarP(&n, "bytes", "c", 256, "number of bytes")
	return cmd
}

func hexdumpCmd() *cobra.Command {
	var n int64
	cmd := &cobra.Command{
		Use:     "hexdump <path>",
		Aliases: []string{"hd"},
		Short:   "hex dump a file",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(false, func(fsys *sdfat.FS) error {
				var f sdfat.File
				if err := fsys.OpenFile(&f, args[0], sdfat.ModeRead); err != nil {
					return err
				}
				defer f.Close()
				data, err := io.ReadAll(io.LimitReader(&f, n))
				if err != nil {
					return err
				}
				hexdump(os.Stdout, data)
				return nil
			})
		},
	}
	cmd.Flags().Int64VarP(&n, "bytes", "c", 512, "number of bytes")
	return cmd
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "show file or directory details",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(false, func(fsys *sdfat.FS) error {
				fi, err := fsys.Stat(args[0])
				if err != nil {
					return err
				}
				kind := "file"
				if fi.IsDir() {
					kind = "directory"
				}
				fmt.Printf("Name:     %s\n", fi.Name())
				fmt.Printf("Short:    %s\n", fi.AlternateName())
				fmt.Printf("Type:     %s\n", kind)
				fmt.Printf("Size:     %d (%s)\n", fi.Size(), sizeString(fi.Size()))
				fmt.Printf("Modified: %s\n", fi.ModTime().Format("2006-01-02 15:04:05"))
				fmt.Printf("Created:  %s\n", fi.CreateTime().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func dfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "df",
		Short: "show free space",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withMount(false, func(fsys *sdfat.FS) error {
				free, err := fsys.FreeBytes()
				if err != nil {
					return err
				}
				vi, err := fsys.Info()
				if err != nil {
					return err
				}
				fmt.Printf("%-8s %10s %10s %10s\n", "Type", "Total", "Used", "Free")
				fmt.Printf("%-8s %10s %10s %10s\n", vi.Type,
					sizeString(int64(vi.TotalBytes)),
					sizeString(int64(vi.TotalBytes-free)),
					sizeString(int64(free)))
				return nil
			})
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "show volume information",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withMount(false, func(fsys *sdfat.FS) error {
				vi, err := fsys.Info()
				if err != nil {
					return err
				}
				fmt.Printf("Filesystem:    %s\n", vi.Type)
				fmt.Printf("Label:         %q\n", vi.Label)
				fmt.Printf("Serial:        %08X\n", vi.Serial)
				fmt.Printf("Cluster size:  %d\n", vi.ClusterSize)
				fmt.Printf("Clusters:      %d\n", vi.TotalClusters)
				fmt.Printf("Capacity:      %s\n", sizeString(int64(vi.TotalBytes)))
				return nil
			})
		},
	}
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [path]",
		Short: "list a directory tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(false, func(fsys *sdfat.FS) error {
				start := arg0(args, "/")
				fmt.Println(start)
				return walkTree(fsys, start, "")
			})
		},
	}
}

func walkTree(fsys *sdfat.FS, path, indent string) error {
	var dir sdfat.Dir
	if err := fsys.OpenDir(&dir, path); err != nil {
		return err
	}
	defer dir.Close()
	type node struct {
		name  string
		isDir bool
	}
	var nodes []node
	err := dir.ForEachFile(func(fi *sdfat.FileInfo) error {
		name := fi.Name()
		if name == "." || name == ".." {
			return nil
		}
		nodes = append(nodes, node{name: name, isDir: fi.IsDir()})
		return nil
	})
	if err != nil {
		return err
	}
	for i, nd := range nodes {
		branch, cont := "├── ", "│   "
		if i == len(nodes)-1 {
			branch, cont = "└── ", "    "
		}
		fmt.Println(indent + branch + nd.name)
		if nd.isDir {
			if err := walkTree(fsys, joinPath(path, nd.name), indent+cont); err != nil {
				return err
			}
		}
	}
	return nil
}

func findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <name-substring> [path]",
		Short: "find entries by name",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			needle := strings.ToLower(args[0])
			start := "/"
			if len(args) > 1 {
				start = args[1]
			}
			return withMount(false, func(fsys *sdfat.FS) error {
				return findWalk(fsys, start, needle)
			})
		},
	}
}

func findWalk(fsys *sdfat.FS, path, needle string) error {
	var dir sdfat.Dir
	if err := fsys.OpenDir(&dir, path); err != nil {
		return err
	}
	defer dir.Close()
	type node struct {
		name  string
		isDir bool
	}
	var nodes []node
	err := dir.ForEachFile(func(fi *sdfat.FileInfo) error {
		name := fi.Name()
		if name == "." || name == ".." {
			return nil
		}
		nodes = append(nodes, node{name: name, isDir: fi.IsDir()})
		return nil
	})
	if err != nil {
		return err
	}
	for _, nd := range nodes {
		full := joinPath(path, nd.name)
		if strings.Contains(strings.ToLower(nd.name), needle) {
			fmt.Println(full)
		}
		if nd.isDir {
			if err := findWalk(fsys, full, needle); err != nil {
				return err
			}
		}
	}
	return nil
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(true, func(fsys *sdfat.FS) error {
				return fsys.Mkdir(args[0])
			})
		},
	}
}

func rmdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <path>",
		Short: "remove an empty directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(true, func(fsys *sdfat.FS) error {
				return fsys.Rmdir(args[0])
			})
		},
	}
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(true, func(fsys *sdfat.FS) error {
				return fsys.Unlink(args[0])
			})
		},
	}
}

func mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <old> <new>",
		Short: "rename within a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(true, func(fsys *sdfat.FS) error {
				return fsys.Rename(args[0], args[1])
			})
		},
	}
}

func touchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "touch <path>",
		Short: "create an empty file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(true, func(fsys *sdfat.FS) error {
				var f sdfat.File
				err := fsys.OpenFile(&f, args[0], sdfat.ModeWrite|sdfat.ModeCreate)
				if err != nil {
					return err
				}
				return f.Close()
			})
		},
	}
}

func writeCmd() *cobra.Command {
	var append_ bool
	cmd := &cobra.Command{
		Use:   "write <path>",
		Short: "write stdin into a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withMount(true, func(fsys *sdfat.FS) error {
				mode := sdfat.ModeWrite | sdfat.ModeCreate | sdfat.ModeTruncate
				if append_ {
					mode = sdfat.ModeWrite | sdfat.ModeCreate | sdfat.ModeAppend
				}
				var f sdfat.File
				if err := fsys.OpenFile(&f, args[0], mode); err != nil {
					return err
				}
				if _, err := io.Copy(&f, os.Stdin); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().BoolVarP(&append_, "append", "a", false, "append instead of truncating")
	return cmd
}

func joinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// sizeString renders a byte count the way the interactive shell does: raw
// bytes below 1 KiB, one decimal place above.
func sizeString(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for u := n / unit; u >= unit; u /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(n)/float64(div), "KMGT"[exp])
}

func hexdump(w io.Writer, data []byte) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]
		fmt.Fprintf(w, "%08x  ", off)
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(w, "%02x ", row[i])
			} else {
				fmt.Fprint(w, "   ")
			}
			if i == 7 {
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprint(w, " |")
		for _, b := range row {
			if b < 0x20 || b > 0x7E {
				b = '.'
			}
			fmt.Fprintf(w, "%c", b)
		}
		fmt.Fprintln(w, "|")
	}
}
