package sdfat

import (
	"encoding/binary"
	"io"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// FileInfo describes one directory entry yielded by ReadDir or Stat.
type FileInfo struct {
	fname   [lfnBufSize + 1]byte // long name when present, else decoded 8.3
	altname [sfnBufSize + 1]byte // decoded 8.3 name
	fattrib uint8
	fsize   uint32
	sclust  uint32 // first cluster, high<<16|low
	ctime   datetime
	mtime   datetime

	// On-disk location of the 32-byte entry, used for write-back.
	dirSect lba
	dirOff  uint32
}

// Name returns the entry's name: the assembled long file name when one is
// present and intact, otherwise the 8.3 name rendered lower case.
func (fi *FileInfo) Name() string { return str(fi.fname[:]) }

// AlternateName returns the decoded 8.3 short name.
func (fi *FileInfo) AlternateName() string { return str(fi.altname[:]) }

// Size returns the file size in bytes. Zero for directories.
func (fi *FileInfo) Size() int64 { return int64(fi.fsize) }

// IsDir reports whether the entry is a directory.
func (fi *FileInfo) IsDir() bool { return fi.fattrib&attrDir != 0 }

// IsHidden reports whether the hidden attribute is set.
func (fi *FileInfo) IsHidden() bool { return fi.fattrib&attrHidden != 0 }

// IsReadOnly reports whether the read-only attribute is set.
func (fi *FileInfo) IsReadOnly() bool { return fi.fattrib&attrReadOnly != 0 }

// ModTime returns the entry's modification timestamp.
func (fi *FileInfo) ModTime() time.Time { return fi.mtime.Time() }

// CreateTime returns the entry's creation timestamp.
func (fi *FileInfo) CreateTime() time.Time { return fi.ctime.Time() }

// Dir is an open directory iterator. It owns a 512-byte sector buffer and
// walks entries in on-disk order, assembling long file name runs.
type Dir struct {
	fs   *FS
	open bool

	firstCluster uint32 // 0 means the fixed FAT12/16 root run
	cluster      uint32
	sect         lba
	off          uint32 // byte offset of the next entry within buf
	walked       uint32 // cluster hops, bounds corrupt chains

	lfn lfnState
	buf [SectorSize]byte
}

// lfnState accumulates a long file name run preceding its 8.3 entry.
// Fragments appear on disk last-first; a sequence gap or checksum mismatch
// invalidates the run and the short name alone is reported.
type lfnState struct {
	valid   bool
	nextOrd int
	span    int
	chksum  byte
	buf     [lfnBufSize]uint16
}

func (st *lfnState) reset() { st.valid = false }

func (st *lfnState) feed(le *lfnEntry) {
	ord := le.ordinal()
	if ord == 0 || ord > lfnMaxOrd {
		st.valid = false
		return
	}
	if le.isLast() {
		*st = lfnState{valid: true, nextOrd: ord - 1, span: ord * lfnEntryChars, chksum: le.checksum()}
	} else {
		if !st.valid || ord != st.nextOrd || le.checksum() != st.chksum {
			st.valid = false
			return
		}
		st.nextOrd--
	}
	units := le.units()
	copy(st.buf[(ord-1)*lfnEntryChars:], units[:])
}

// name renders the accumulated long name into dst if the run is complete,
// unbroken and its checksum matches the 8.3 name it precedes.
func (st *lfnState) name(short [11]byte, dst []byte) (int, bool) {
	if !st.valid || st.nextOrd != 0 || st.chksum != sfnChecksum(short) {
		return 0, false
	}
	end := st.span
	if end > lfnBufSize {
		end = lfnBufSize
	}
	for i := 0; i < end; i++ {
		if st.buf[i] == 0x0000 {
			end = i
			break
		}
	}
	if end == 0 {
		return 0, false
	}
	// Slots past the terminator hold 0xFFFF fill and are ignored.
	raw := make([]byte, 2*end)
	for i := 0; i < end; i++ {
		binary.LittleEndian.PutUint16(raw[2*i:], st.buf[i])
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	utf8Name, err := dec.Bytes(raw)
	if err != nil || len(utf8Name) == 0 || len(utf8Name) > len(dst) {
		return 0, false
	}
	return copy(dst, utf8Name), true
}

// decodeShortName renders an on-disk 11-byte 8.3 name for display: trailing
// spaces trimmed, extension dotted on, 0x05 unescaped, lower case.
func decodeShortName(raw [11]byte, dst []byte) int {
	n := 0
	for i := 0; i < 8 && raw[i] != ' '; i++ {
		c := raw[i]
		if i == 0 && c == dirEntryKanji {
			c = 0xE5
		}
		if isUpper(c) {
			c += 'a' - 'A'
		}
		dst[n] = c
		n++
	}
	if raw[8] != ' ' {
		dst[n] = '.'
		n++
		for i := 8; i < 11 && raw[i] != ' '; i++ {
			c := raw[i]
			if isUpper(c) {
				c += 'a' - 'A'
			}
			dst[n] = c
			n++
		}
	}
	return n
}

// OpenDir opens the directory at path for iteration.
func (fsys *FS) OpenDir(dp *Dir, path string) error {
	if dp == nil {
		return ErrInvalidParam
	}
	if err := fsys.checkMounted(); err != nil {
		return err
	}
	res, err := fsys.resolvePath(path)
	if err != nil {
		return err
	}
	if !res.info.IsDir() {
		return ErrNotDir
	}
	return fsys.openDirAt(dp, res.cluster)
}

// openDirAt opens an iterator over the directory starting at cluster; cluster
// 0 selects the root, which on FAT12/16 is the fixed run outside the data area.
func (fsys *FS) openDirAt(dp *Dir, cluster uint32) error {
	if cluster == 0 {
		cluster = fsys.rootCluster()
	}
	dp.fs = fsys
	dp.firstCluster = cluster
	dp.open = true
	return dp.rewind()
}

func (dp *Dir) rewind() error {
	fsys := dp.fs
	dp.cluster = dp.firstCluster
	if dp.firstCluster == 0 {
		dp.sect = fsys.rootsect
	} else {
		dp.sect = fsys.clst2sect(dp.firstCluster)
		if dp.sect == 0 {
			return ErrInternal
		}
	}
	dp.off = 0
	dp.walked = 0
	dp.lfn.reset()
	return fsys.readSector(dp.buf[:], dp.sect)
}

// nextSector advances the iterator's window one sector, following the cluster
// chain past cluster boundaries. Returns io.EOF past the end of the directory.
func (dp *Dir) nextSector() error {
	fsys := dp.fs
	if dp.firstCluster == 0 {
		if uint32(dp.sect-fsys.rootsect)+1 >= fsys.rootSectors() {
			return io.EOF
		}
		dp.sect++
	} else {
		inCluster := uint32(dp.sect-fsys.clst2sect(dp.cluster)) + 1
		if inCluster >= uint32(fsys.csize) {
			next, err := fsys.nextCluster(dp.cluster)
			if err != nil {
				return err
			}
			if next == 0 {
				return io.EOF
			}
			dp.walked++
			if dp.walked >= fsys.n_fatent {
				return ErrFATCorrupt
			}
			dp.cluster = next
			dp.sect = fsys.clst2sect(next)
		} else {
			dp.sect++
		}
	}
	dp.off = 0
	return fsys.readSector(dp.buf[:], dp.sect)
}

// ReadDir yields the next entry of the directory into info, or io.EOF when
// the directory is exhausted. Volume label slots and long-name fragments are
// consumed internally and never yielded.
func (dp *Dir) ReadDir(info *FileInfo) error {
	if !dp.open || dp.fs == nil {
		return ErrInvalidHandle
	}
	for {
		if dp.off >= SectorSize {
			if err := dp.nextSector(); err != nil {
				return err
			}
		}
		entryOff := dp.off
		de := dirEntry{data: dp.buf[entryOff : entryOff+sizeDirEntry]}
		dp.off += sizeDirEntry

		switch {
		case de.isEnd():
			return io.EOF
		case de.isDeleted():
			dp.lfn.reset()
			continue
		case de.isLFN():
			le := lfnEntry{data: de.data}
			dp.lfn.feed(&le)
			continue
		case de.attributes()&attrVolumeID != 0:
			dp.lfn.reset()
			continue
		}

		*info = FileInfo{
			fattrib: de.attributes(),
			fsize:   de.size(),
			sclust:  de.cluster(),
			ctime:   de.createdAt(),
			mtime:   de.modifiedAt(),
			dirSect: dp.sect,
			dirOff:  entryOff,
		}
		raw := de.rawName()
		n := decodeShortName(raw, info.altname[:sfnBufSize])
		info.altname[n] = 0
		if n, ok := dp.lfn.name(raw, info.fname[:lfnBufSize]); ok {
			info.fname[n] = 0
		} else {
			copy(info.fname[:], info.altname[:])
		}
		dp.lfn.reset()
		return nil
	}
}

// ForEachFile rewinds the directory and calls the callback for every entry.
func (dp *Dir) ForEachFile(callback func(*FileInfo) error) error {
	if err := dp.rewind(); err != nil {
		return err
	}
	var info FileInfo
	for {
		err := dp.ReadDir(&info)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := callback(&info); err != nil {
			return err
		}
	}
}

// Close invalidates the iterator.
func (dp *Dir) Close() error {
	if !dp.open {
		return ErrInvalidHandle
	}
	dp.open = false
	return nil
}
