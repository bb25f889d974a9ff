package sdfat

import (
	"io"
	"strings"
)

// resolved is the outcome of walking a path: the terminal component's first
// cluster, the on-disk location of its directory entry, and its info record.
// root is set when the walk ended at the volume root or on a ".." component:
// the resolver then knows the directory's cluster but no entry location, so
// dirSect is meaningless and info is the synthetic directory record.
type resolved struct {
	cluster uint32
	dirSect lba
	dirOff  uint32
	info    FileInfo
	root    bool
}

const maxPathLen = 256

// resolvePath walks an absolute or relative path to its terminal component.
// Runs of separators collapse; "." is a no-op. ".." pops the resolver's own
// parent stack rather than following the on-disk dot-dot entry, whose parent
// pointer is unreliable for the FAT32 root and absent for fixed roots.
// Matching is case-insensitive against both the long and the 8.3 name.
func (fsys *FS) resolvePath(path string) (resolved, error) {
	if len(path) > maxPathLen {
		return resolved{}, ErrPathTooLong
	}
	current := fsys.cwdCluster
	if strings.HasPrefix(path, "/") {
		current = fsys.rootCluster()
	}

	// Parent stack of directory first-clusters descended through.
	var parents []uint32
	var res resolved
	res.root = true
	res.cluster = current
	res.info = fsys.syntheticDirInfo(current)

	rest := path
	for {
		for strings.HasPrefix(rest, "/") {
			rest = rest[1:]
		}
		if rest == "" {
			return res, nil
		}
		var component string
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			component, rest = rest[:i], rest[i:]
		} else {
			component, rest = rest, ""
		}
		switch component {
		case ".":
			continue
		case "..":
			if len(parents) > 0 {
				current = parents[len(parents)-1]
				parents = parents[:len(parents)-1]
			} else {
				current = fsys.rootCluster()
			}
			res = resolved{root: true, cluster: current, info: fsys.syntheticDirInfo(current)}
			continue
		}

		entry, err := fsys.searchDir(current, component)
		if err != nil {
			return resolved{}, err
		}
		if rest != "" && strings.Trim(rest, "/") != "" && !entry.IsDir() {
			return resolved{}, ErrNotDir
		}
		next := entry.sclust
		if entry.IsDir() && next == 0 {
			// A dot-dot entry of a first-level subdirectory points at the
			// FAT12/16 root as cluster 0.
			next = fsys.rootCluster()
		}
		res = resolved{
			cluster: entry.sclust,
			dirSect: entry.dirSect,
			dirOff:  entry.dirOff,
			info:    entry,
		}
		if entry.IsDir() {
			res.cluster = next
			parents = append(parents, current)
			current = next
		}
	}
}

// syntheticDirInfo builds the info record reported for the volume root, which
// has no directory entry on disk, and for a directory reached through "..".
func (fsys *FS) syntheticDirInfo(cluster uint32) FileInfo {
	fi := FileInfo{fattrib: attrDir, sclust: cluster}
	fi.fname[0] = '/'
	fi.altname[0] = '/'
	return fi
}

// searchDir scans one directory for a component name.
func (fsys *FS) searchDir(cluster uint32, component string) (FileInfo, error) {
	var dp Dir
	if err := fsys.openDirAt(&dp, cluster); err != nil {
		return FileInfo{}, err
	}
	var info FileInfo
	for {
		err := dp.ReadDir(&info)
		if err == io.EOF {
			return FileInfo{}, ErrNotFound
		}
		if err != nil {
			return FileInfo{}, err
		}
		if strings.EqualFold(info.Name(), component) || strings.EqualFold(info.AlternateName(), component) {
			return info, nil
		}
	}
}

// splitPath separates a path into its parent directory and base name.
func splitPath(path string) (parent, base string) {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "/", ""
	}
	i := strings.LastIndexByte(trimmed, '/')
	if i < 0 {
		return "", trimmed
	}
	if i == 0 {
		return "/", trimmed[1:]
	}
	return trimmed[:i], trimmed[i+1:]
}

// Stat resolves path and returns the terminal component's info record. The
// root resolves to a synthetic directory record.
func (fsys *FS) Stat(path string) (FileInfo, error) {
	if err := fsys.checkMounted(); err != nil {
		return FileInfo{}, err
	}
	res, err := fsys.resolvePath(path)
	if err != nil {
		return FileInfo{}, err
	}
	return res.info, nil
}

// Exists reports whether path resolves to an existing file or directory.
func (fsys *FS) Exists(path string) bool {
	if fsys.checkMounted() != nil {
		return false
	}
	_, err := fsys.resolvePath(path)
	return err == nil
}

// Chdir changes the volume's current working directory, the starting point of
// relative path resolution.
func (fsys *FS) Chdir(path string) error {
	if err := fsys.checkMounted(); err != nil {
		return err
	}
	if path == "" || path == "/" {
		fsys.cwdCluster = fsys.rootCluster()
		fsys.cwdPath = "/"
		return nil
	}
	res, err := fsys.resolvePath(path)
	if err != nil {
		return err
	}
	if !res.info.IsDir() {
		return ErrNotDir
	}
	cluster := res.info.sclust
	if cluster == 0 {
		cluster = fsys.rootCluster()
	}
	fsys.cwdCluster = cluster
	fsys.cwdPath = joinCwd(fsys.cwdPath, path)
	return nil
}

// Getcwd returns the printable current working directory path.
func (fsys *FS) Getcwd() string { return fsys.cwdPath }

// joinCwd derives the printable cwd path after a successful Chdir. Dot and
// dot-dot components are folded so the result stays canonical.
func joinCwd(cwd, path string) string {
	var parts []string
	if !strings.HasPrefix(path, "/") {
		parts = splitComponents(cwd)
	}
	for _, c := range splitComponents(path) {
		switch c {
		case ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(parts, "/")
}

func splitComponents(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
