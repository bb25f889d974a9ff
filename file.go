package sdfat

import (
	"errors"
	"io"
	"math"
	"strings"
)

// Mode is the file access mode bitset used in OpenFile. Any combination that
// includes an access bit (Read, Write or Append) is allowed except Excl
// without Create, and Truncate or Create without write access.
type Mode uint8

const (
	ModeRead Mode = 1 << iota
	ModeWrite
	ModeAppend
	ModeCreate
	ModeTruncate
	ModeExcl

	ModeRW = ModeRead | ModeWrite

	allowedModes = ModeRead | ModeWrite | ModeAppend | ModeCreate | ModeTruncate | ModeExcl
)

// writable reports whether the mode grants write access.
func (m Mode) writable() bool { return m&(ModeWrite|ModeAppend) != 0 }

// validate rejects nonsensical mode combinations up front.
func (m Mode) validate() error {
	switch {
	case m&^allowedModes != 0:
		return ErrInvalidParam
	case m&(ModeRead|ModeWrite|ModeAppend) == 0:
		return ErrInvalidParam
	case m&ModeExcl != 0 && m&ModeCreate == 0:
		return ErrInvalidParam
	case m&ModeTruncate != 0 && !m.writable():
		return ErrInvalidParam
	case m&ModeCreate != 0 && !m.writable():
		return ErrInvalidParam
	}
	return nil
}

// File is an open file handle with its own 512-byte write-back sector buffer.
// Two handles open on the same file are not kept coherent; don't do that.
type File struct {
	fs   *FS
	open bool
	mode Mode

	firstCluster uint32
	cluster      uint32 // cluster as positioned, 0 when the file has none
	clusterOff   uint32 // byte offset within cluster; values >= cluster size
	// represent positions past the materialized chain end
	pos  uint32
	size uint32

	// Location of the directory entry for write-back on Close.
	dirSect lba
	dirOff  uint32

	bufSect  lba
	bufDirty bool
	buf      [SectorSize]byte
}

// OpenFile opens the named file. Missing files are created when ModeCreate is
// set; existing files are emptied when ModeTruncate is set; ModeAppend
// positions at end of file. Opening a directory reports ErrNotFile.
func (fsys *FS) OpenFile(fp *File, path string, mode Mode) error {
	if fp == nil {
		return ErrInvalidParam
	}
	if err := fsys.checkMounted(); err != nil {
		return err
	}
	if err := mode.validate(); err != nil {
		return err
	}
	if mode&ModeRead != 0 && fsys.perm&ModeRead == 0 {
		return ErrReadOnly
	}
	if mode.writable() && fsys.perm&ModeWrite == 0 {
		return ErrReadOnly
	}

	*fp = File{fs: fsys, bufSect: badLBA}
	res, err := fsys.resolvePath(path)
	switch {
	case err == nil:
		if res.root || res.info.IsDir() {
			return ErrNotFile
		}
		if mode&ModeExcl != 0 {
			return ErrExists
		}
		fp.firstCluster = res.info.sclust
		fp.size = res.info.fsize
		fp.dirSect = res.dirSect
		fp.dirOff = res.dirOff
		if mode&ModeTruncate != 0 {
			if fp.firstCluster >= 2 {
				if err := fsys.free_chain(fp.firstCluster); err != nil {
					return err
				}
			}
			fp.firstCluster = 0
			fp.size = 0
			err := fsys.patchDirEntry(fp.dirSect, fp.dirOff, func(de *dirEntry) {
				de.setCluster(0)
				de.setSize(0)
			})
			if err != nil {
				return err
			}
		}
	case errors.Is(err, ErrNotFound) && mode&ModeCreate != 0:
		sect, off, err := fsys.create_entry(path, 0)
		if err != nil {
			return err
		}
		fp.dirSect = sect
		fp.dirOff = off
	default:
		return err
	}

	fp.mode = mode
	fp.cluster = fp.firstCluster
	fp.open = true

	if mode&ModeAppend != 0 {
		fp.pos = fp.size
		if fp.firstCluster >= 2 {
			cs := fsys.clusterSize()
			cluster := fp.firstCluster
			var walked, at uint32
			for at+cs <= fp.size {
				next, err := fsys.nextCluster(cluster)
				if err != nil {
					return err
				}
				if next == 0 {
					break
				}
				walked++
				if walked >= fsys.n_fatent {
					return ErrFATCorrupt
				}
				cluster = next
				at += cs
			}
			fp.cluster = cluster
			fp.clusterOff = fp.size - at
		} else {
			fp.clusterOff = fp.pos
		}
	}
	return nil
}

// stepIn advances the handle's cluster pointer until clusterOff is inside the
// current cluster, allocating and zero-filling clusters when alloc is set.
// Returns false without error when the chain ends and alloc is unset.
func (fp *File) stepIn(alloc bool) (bool, error) {
	fsys := fp.fs
	cs := fsys.clusterSize()
	if fp.cluster < 2 {
		if !alloc {
			return false, nil
		}
		c, err := fsys.alloc_cluster(0)
		if err != nil {
			return false, err
		}
		if err := fsys.zeroClusterSectors(c); err != nil {
			return false, err
		}
		if fp.firstCluster < 2 {
			fp.firstCluster = c
		}
		fp.cluster = c
	}
	for fp.clusterOff >= cs {
		next, err := fsys.nextCluster(fp.cluster)
		if err != nil {
			return false, err
		}
		if next == 0 {
			if !alloc {
				return false, nil
			}
			next, err = fsys.alloc_cluster(fp.cluster)
			if err != nil {
				return false, err
			}
			if err := fsys.zeroClusterSectors(next); err != nil {
				return false, err
			}
		}
		fp.cluster = next
		fp.clusterOff -= cs
	}
	return true, nil
}

// flushBuf writes the handle's sector buffer back if dirty.
func (fp *File) flushBuf() error {
	if !fp.bufDirty || fp.bufSect == badLBA {
		return nil
	}
	if err := fp.fs.writeSector(fp.buf[:], fp.bufSect); err != nil {
		return err
	}
	fp.bufDirty = false
	return nil
}

// Read reads up to len(p) bytes from the current position, stopping at the
// file size. Reads beginning at or past the size return io.EOF. Implements
// io.Reader.
func (fp *File) Read(p []byte) (int, error) {
	if !fp.open || fp.fs == nil {
		return 0, ErrInvalidHandle
	}
	if fp.mode&ModeRead == 0 {
		return 0, ErrReadOnly
	}
	if fp.pos >= fp.size {
		return 0, io.EOF
	}
	if remaining := fp.size - fp.pos; uint32(len(p)) > remaining {
		p = p[:remaining]
	}
	fsys := fp.fs
	cs := fsys.clusterSize()
	total := 0
	var walked uint32
	for len(p) > 0 {
		if fp.clusterOff >= cs {
			walked++
			if walked >= fsys.n_fatent {
				return total, ErrFATCorrupt
			}
		}
		ok, err := fp.stepIn(false)
		if err != nil {
			return total, err
		}
		if !ok {
			break // chain shorter than the recorded size
		}
		offInSect := fp.clusterOff % SectorSize
		sector := fsys.clst2sect(fp.cluster) + lba(fp.clusterOff/SectorSize)
		if fp.bufSect != sector {
			if err := fp.flushBuf(); err != nil {
				return total, err
			}
			if err := fsys.readSector(fp.buf[:], sector); err != nil {
				return total, err
			}
			fp.bufSect = sector
		}
		n := SectorSize - int(offInSect)
		if n > len(p) {
			n = len(p)
		}
		copy(p[:n], fp.buf[offInSect:int(offInSect)+n])
		p = p[n:]
		total += n
		fp.pos += uint32(n)
		fp.clusterOff += uint32(n)
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Write writes len(p) bytes at the current position, growing the file and its
// cluster chain as needed. Newly allocated clusters are zero-filled so sparse
// regions created by seeking past the end read back as zeroes. Implements
// io.Writer.
func (fp *File) Write(p []byte) (int, error) {
	if !fp.open || fp.fs == nil {
		return 0, ErrInvalidHandle
	}
	if !fp.mode.writable() {
		return 0, ErrReadOnly
	}
	fsys := fp.fs
	total := 0
	for len(p) > 0 {
		if _, err := fp.stepIn(true); err != nil {
			return total, err
		}
		offInSect := fp.clusterOff % SectorSize
		sector := fsys.clst2sect(fp.cluster) + lba(fp.clusterOff/SectorSize)

		n := SectorSize - int(offInSect)
		if n > len(p) {
			n = len(p)
		}
		if offInSect == 0 && n == SectorSize && fp.bufSect != sector {
			// Full-sector write bypasses the buffer.
			if err := fsys.writeSector(p[:SectorSize], sector); err != nil {
				return total, err
			}
		} else {
			if fp.bufSect != sector {
				if err := fp.flushBuf(); err != nil {
					return total, err
				}
				if err := fsys.readSector(fp.buf[:], sector); err != nil {
					return total, err
				}
				fp.bufSect = sector
			}
			copy(fp.buf[offInSect:int(offInSect)+n], p[:n])
			fp.bufDirty = true
		}
		p = p[n:]
		total += n
		fp.pos += uint32(n)
		fp.clusterOff += uint32(n)
		if fp.pos > fp.size {
			fp.size = fp.pos
		}
	}
	return total, nil
}

// Seek sets the position for the next Read or Write. In read-only mode
// positions clamp to the file size; in write mode seeking past the end is
// allowed and clusters materialize on the next write. Implements io.Seeker.
func (fp *File) Seek(offset int64, whence int) (int64, error) {
	if !fp.open || fp.fs == nil {
		return 0, ErrInvalidHandle
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(fp.pos) + offset
	case io.SeekEnd:
		target = int64(fp.size) + offset
	default:
		return 0, ErrInvalidParam
	}
	if target < 0 || target > math.MaxUint32 {
		return 0, ErrSeek
	}
	if !fp.mode.writable() && target > int64(fp.size) {
		target = int64(fp.size)
	}
	newPos := uint32(target)
	fsys := fp.fs
	cs := fsys.clusterSize()

	if newPos < fp.pos {
		fp.cluster = fp.firstCluster
		fp.clusterOff = 0
		fp.pos = 0
	}
	var walked uint32
	for fp.pos < newPos {
		need := newPos - fp.pos
		if fp.cluster < 2 {
			// No chain; record the distance for later materialization.
			fp.clusterOff += need
			fp.pos = newPos
			break
		}
		avail := cs - fp.clusterOff
		if need < avail {
			fp.clusterOff += need
			fp.pos = newPos
			break
		}
		next, err := fsys.nextCluster(fp.cluster)
		if err != nil {
			return int64(fp.pos), err
		}
		if next == 0 {
			fp.clusterOff += need
			fp.pos = newPos
			break
		}
		walked++
		if walked >= fsys.n_fatent {
			return int64(fp.pos), ErrFATCorrupt
		}
		fp.cluster = next
		fp.pos += avail
		fp.clusterOff = 0
	}
	return int64(fp.pos), nil
}

// Tell returns the current byte position.
func (fp *File) Tell() int64 { return int64(fp.pos) }

// EOF reports whether the position is at or past the end of the file.
func (fp *File) EOF() bool { return fp.pos >= fp.size }

// Size returns the file size in bytes.
func (fp *File) Size() int64 { return int64(fp.size) }

// Flush writes the handle's buffered sector and the shared FAT window back to
// the device.
func (fp *File) Flush() error {
	if !fp.open || fp.fs == nil {
		return ErrInvalidHandle
	}
	if err := fp.flushBuf(); err != nil {
		return err
	}
	return fp.fs.sync_window()
}

// Close flushes the handle and, for writable modes, writes the file size,
// first cluster and modification time back into the directory entry.
func (fp *File) Close() error {
	if !fp.open || fp.fs == nil {
		return ErrInvalidHandle
	}
	fsys := fp.fs
	if err := fp.flushBuf(); err != nil {
		return err
	}
	if fp.mode.writable() {
		dt := newDatetime(fsys.wallClock())
		err := fsys.patchDirEntry(fp.dirSect, fp.dirOff, func(de *dirEntry) {
			de.setCluster(fp.firstCluster)
			de.setSize(fp.size)
			de.setModifiedAt(dt)
		})
		if err != nil {
			return err
		}
	}
	fp.open = false
	return nil
}

// Truncate cuts the file at the current position: the containing cluster gets
// the end-of-chain marker and everything beyond is freed. Space left inside
// the final cluster stays allocated; clusters are the allocation unit.
func (fp *File) Truncate() error {
	if !fp.open || fp.fs == nil {
		return ErrInvalidHandle
	}
	if !fp.mode.writable() {
		return ErrReadOnly
	}
	fsys := fp.fs
	// Drop the buffered sector: it may belong to the region being freed.
	if err := fp.flushBuf(); err != nil {
		return err
	}
	fp.bufSect = badLBA
	if fp.cluster >= 2 && fp.pos < fp.size {
		if fp.clusterOff == 0 && fp.pos > 0 {
			// Position sits on a cluster boundary: the current cluster holds
			// the first byte past the cut. Terminate its predecessor and free
			// from here.
			if err := fsys.free_chain(fp.cluster); err != nil {
				return err
			}
			if fp.firstCluster != fp.cluster {
				prev := fp.firstCluster
				for steps := uint32(0); ; steps++ {
					if steps >= fsys.n_fatent {
						return ErrFATCorrupt
					}
					next, err := fsys.nextCluster(prev)
					if err != nil {
						return err
					}
					if next == fp.cluster || next == 0 {
						break
					}
					prev = next
				}
				if err := fsys.put_clusterstat(prev, fsys.eocValue()); err != nil {
					return err
				}
				fp.cluster = prev
				fp.clusterOff = fsys.clusterSize()
			} else {
				fp.firstCluster = 0
				fp.cluster = 0
				fp.clusterOff = 0
			}
		} else {
			next, err := fsys.nextCluster(fp.cluster)
			if err != nil {
				return err
			}
			if next >= 2 {
				if err := fsys.free_chain(next); err != nil {
					return err
				}
				if err := fsys.put_clusterstat(fp.cluster, fsys.eocValue()); err != nil {
					return err
				}
			}
		}
	}
	fp.size = fp.pos
	return nil
}

// patchDirEntry applies an in-place mutation to one 32-byte directory entry.
func (fsys *FS) patchDirEntry(sect lba, off uint32, patch func(de *dirEntry)) error {
	var buf [SectorSize]byte
	if err := fsys.readSector(buf[:], sect); err != nil {
		return err
	}
	de := dirEntry{data: buf[off : off+sizeDirEntry]}
	patch(&de)
	return fsys.writeSector(buf[:], sect)
}

// zeroClusterSectors scrubs every sector of a cluster with the shared zero
// buffer so stale data never leaks into newly allocated space.
func (fsys *FS) zeroClusterSectors(cluster uint32) error {
	sector := fsys.clst2sect(cluster)
	if sector == 0 {
		return ErrInternal
	}
	for i := uint16(0); i < fsys.csize; i++ {
		if err := fsys.writeSector(fsys.zero[:], sector+lba(i)); err != nil {
			return err
		}
	}
	return nil
}

// shortNameIllegal lists the punctuation bytes that may not appear in an 8.3 name.
const shortNameIllegal = "\"*+,/:;<=>?[\\]|"

func legalShortChar(c byte) byte {
	if isLower(c) {
		return c - 'a' + 'A'
	}
	if c < 0x20 || c > 0x7E || strings.IndexByte(shortNameIllegal, c) >= 0 {
		return '_'
	}
	return c
}

// toShortName converts a basename to an 11-byte space-padded 8.3 name:
// leading dots and spaces stripped, embedded spaces and dots dropped, ASCII
// uppercased, illegal bytes replaced, the text after the last dot placed in
// the extension field. Reports false when no base characters survive.
func toShortName(name string) (out [11]byte, ok bool) {
	for i := range out {
		out[i] = ' '
	}
	s := strings.TrimLeft(name, ". ")
	if s == "" {
		return out, false
	}
	dot := strings.LastIndexByte(s, '.')
	j := 0
	end := len(s)
	if dot >= 0 {
		end = dot
	}
	for i := 0; i < end && j < 8; i++ {
		c := s[i]
		if c == ' ' || c == '.' {
			continue
		}
		out[j] = legalShortChar(c)
		j++
	}
	if j == 0 {
		return out, false
	}
	if dot >= 0 && dot+1 < len(s) {
		j = 8
		for i := dot + 1; i < len(s) && j < 11; i++ {
			c := s[i]
			if c == ' ' || c == '.' {
				continue
			}
			out[j] = legalShortChar(c)
			j++
		}
	}
	// A real leading 0xE5 byte is stored escaped so the slot does not read
	// as deleted.
	if out[0] == dirEntryFree {
		out[0] = dirEntryKanji
	}
	return out, true
}

// create_entry creates a fresh 8.3 directory entry for path in its parent
// directory, extending cluster-chained directories when their slots run out.
// The fixed FAT12/16 root reports ErrRootFull instead. Returns the on-disk
// location of the new entry.
func (fsys *FS) create_entry(path string, attr uint8) (lba, uint32, error) {
	parent, base := splitPath(path)
	if base == "" {
		return 0, 0, ErrInvalidName
	}
	name11, ok := toShortName(base)
	if !ok {
		return 0, 0, ErrInvalidName
	}
	parentCluster := fsys.cwdCluster
	if parent != "" {
		res, err := fsys.resolvePath(parent)
		if err != nil {
			return 0, 0, err
		}
		if !res.info.IsDir() {
			return 0, 0, ErrNotDir
		}
		parentCluster = res.cluster
	}

	var dp Dir
	if err := fsys.openDirAt(&dp, parentCluster); err != nil {
		return 0, 0, err
	}
	entries := uint32(0)
	for {
		if dp.off >= SectorSize {
			err := dp.nextSector()
			if err == io.EOF {
				if dp.firstCluster == 0 {
					return 0, 0, ErrRootFull
				}
				// Grow the directory by one zeroed cluster.
				newc, err := fsys.alloc_cluster(dp.cluster)
				if err != nil {
					return 0, 0, err
				}
				if err := fsys.zeroClusterSectors(newc); err != nil {
					return 0, 0, err
				}
				dp.cluster = newc
				dp.sect = fsys.clst2sect(newc)
				dp.off = 0
				clear(dp.buf[:])
			} else if err != nil {
				return 0, 0, err
			}
		}
		if dp.firstCluster == 0 && entries >= uint32(fsys.nrootdir) {
			return 0, 0, ErrRootFull
		}
		de := dirEntry{data: dp.buf[dp.off : dp.off+sizeDirEntry]}
		if de.isEnd() || de.isDeleted() {
			break
		}
		dp.off += sizeDirEntry
		entries++
	}

	de := dirEntry{data: dp.buf[dp.off : dp.off+sizeDirEntry]}
	de.clear()
	de.setRawName(name11)
	de.setAttributes(attr | attrArchive)
	dt := newDatetime(fsys.wallClock())
	de.setCreatedAt(dt)
	de.setModifiedAt(dt)
	de.setAccessDate(dt)
	if err := fsys.writeSector(dp.buf[:], dp.sect); err != nil {
		return 0, 0, err
	}
	return dp.sect, dp.off, nil
}

// removeEntry marks a directory entry free along with any long-name fragments
// directly preceding it in the same sector, so the whole name is released.
func (fsys *FS) removeEntry(sect lba, off uint32) error {
	var buf [SectorSize]byte
	if err := fsys.readSector(buf[:], sect); err != nil {
		return err
	}
	buf[off] = dirEntryFree
	for o := int(off) - sizeDirEntry; o >= 0; o -= sizeDirEntry {
		de := dirEntry{data: buf[o : o+sizeDirEntry]}
		if de.isDeleted() || de.isEnd() || !de.isLFN() {
			break
		}
		buf[o] = dirEntryFree
	}
	return fsys.writeSector(buf[:], sect)
}

// Unlink deletes a file: its cluster chain is freed in every FAT copy and its
// directory entry, long name included, is marked free.
func (fsys *FS) Unlink(path string) error {
	if err := fsys.checkMounted(); err != nil {
		return err
	}
	if fsys.perm&ModeWrite == 0 {
		return ErrReadOnly
	}
	res, err := fsys.resolvePath(path)
	if err != nil {
		return err
	}
	if res.root || res.info.IsDir() {
		return ErrNotFile
	}
	if res.info.sclust >= 2 {
		if err := fsys.free_chain(res.info.sclust); err != nil {
			return err
		}
	}
	return fsys.removeEntry(res.dirSect, res.dirOff)
}

// Rename gives a file or directory a new 8.3 name within the same parent
// directory. Cross-directory moves are not supported. A long name attached to
// the old entry is released so it cannot pair with the renamed short entry.
func (fsys *FS) Rename(oldPath, newPath string) error {
	if err := fsys.checkMounted(); err != nil {
		return err
	}
	if fsys.perm&ModeWrite == 0 {
		return ErrReadOnly
	}
	oldParent, _ := splitPath(oldPath)
	newParent, newBase := splitPath(newPath)
	oldPC, err := fsys.parentClusterOf(oldParent)
	if err != nil {
		return err
	}
	newPC, err := fsys.parentClusterOf(newParent)
	if err != nil {
		return err
	}
	if oldPC != newPC {
		return ErrNotSupported
	}
	if fsys.Exists(newPath) {
		return ErrExists
	}
	name11, ok := toShortName(newBase)
	if !ok {
		return ErrInvalidName
	}
	res, err := fsys.resolvePath(oldPath)
	if err != nil {
		return err
	}
	if res.root {
		return ErrInvalidParam
	}

	var buf [SectorSize]byte
	if err := fsys.readSector(buf[:], res.dirSect); err != nil {
		return err
	}
	copy(buf[res.dirOff:res.dirOff+11], name11[:])
	for o := int(res.dirOff) - sizeDirEntry; o >= 0; o -= sizeDirEntry {
		de := dirEntry{data: buf[o : o+sizeDirEntry]}
		if de.isDeleted() || de.isEnd() || !de.isLFN() {
			break
		}
		buf[o] = dirEntryFree
	}
	return fsys.writeSector(buf[:], res.dirSect)
}

// parentClusterOf resolves a parent directory path to its first cluster; the
// empty string means the current working directory.
func (fsys *FS) parentClusterOf(parent string) (uint32, error) {
	if parent == "" {
		return fsys.cwdCluster, nil
	}
	res, err := fsys.resolvePath(parent)
	if err != nil {
		return 0, err
	}
	if !res.info.IsDir() {
		return 0, ErrNotDir
	}
	cluster := res.cluster
	if cluster == 0 {
		cluster = fsys.rootCluster()
	}
	return cluster, nil
}

// Mkdir creates a directory: a fresh entry in the parent, one zeroed cluster,
// and the dot and dot-dot entries in its first sector.
func (fsys *FS) Mkdir(path string) error {
	if err := fsys.checkMounted(); err != nil {
		return err
	}
	if fsys.perm&ModeWrite == 0 {
		return ErrReadOnly
	}
	if fsys.Exists(path) {
		return ErrExists
	}
	parent, _ := splitPath(path)
	parentCluster := fsys.cwdCluster
	if parent != "" {
		res, err := fsys.resolvePath(parent)
		if err != nil {
			return err
		}
		if !res.info.IsDir() {
			return ErrNotDir
		}
		parentCluster = res.cluster
	}

	sect, off, err := fsys.create_entry(path, attrDir)
	if err != nil {
		return err
	}
	cluster, err := fsys.alloc_cluster(0)
	if err != nil {
		// Roll the entry back so a half-made directory is not left behind.
		fsys.patchDirEntry(sect, off, func(de *dirEntry) {
			de.data[dirName] = dirEntryFree
		})
		return err
	}
	err = fsys.patchDirEntry(sect, off, func(de *dirEntry) {
		de.setCluster(cluster)
	})
	if err != nil {
		return err
	}

	// The on-disk dot-dot of a directory whose parent is the root stores
	// cluster 0, for the FAT32 root as well.
	parentOnDisk := parentCluster
	if parentOnDisk == fsys.rootCluster() {
		parentOnDisk = 0
	}
	var first [SectorSize]byte
	dt := newDatetime(fsys.wallClock())
	dot := dirEntry{data: first[0:sizeDirEntry]}
	dot.setRawName([11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '})
	dot.setAttributes(attrDir)
	dot.setCluster(cluster)
	dot.setCreatedAt(dt)
	dot.setModifiedAt(dt)
	dotdot := dirEntry{data: first[sizeDirEntry : 2*sizeDirEntry]}
	dotdot.setRawName([11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '})
	dotdot.setAttributes(attrDir)
	dotdot.setCluster(parentOnDisk)
	dotdot.setCreatedAt(dt)
	dotdot.setModifiedAt(dt)

	sector := fsys.clst2sect(cluster)
	if err := fsys.writeSector(first[:], sector); err != nil {
		return err
	}
	for i := uint16(1); i < fsys.csize; i++ {
		if err := fsys.writeSector(fsys.zero[:], sector+lba(i)); err != nil {
			return err
		}
	}
	return nil
}

// Rmdir removes an empty directory. Directories holding anything besides the
// dot and dot-dot entries report ErrDirNotEmpty.
func (fsys *FS) Rmdir(path string) error {
	if err := fsys.checkMounted(); err != nil {
		return err
	}
	if fsys.perm&ModeWrite == 0 {
		return ErrReadOnly
	}
	res, err := fsys.resolvePath(path)
	if err != nil {
		return err
	}
	if !res.info.IsDir() {
		return ErrNotDir
	}
	if res.root {
		return ErrInvalidParam
	}

	var dp Dir
	if err := fsys.openDirAt(&dp, res.cluster); err != nil {
		return err
	}
	var child FileInfo
	for {
		err := dp.ReadDir(&child)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if name := child.Name(); name != "." && name != ".." {
			return ErrDirNotEmpty
		}
	}

	if res.info.sclust >= 2 {
		if err := fsys.free_chain(res.info.sclust); err != nil {
			return err
		}
	}
	return fsys.removeEntry(res.dirSect, res.dirOff)
}
