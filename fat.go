// Package sdfat implements a FAT12/FAT16/FAT32 volume engine over any
// 512-byte-sector block device. It covers boot-record parsing, FAT table
// decoding and mutation, cluster-chain traversal and allocation, directory
// iteration with long file name assembly, path resolution and byte-granular
// file I/O with write-back sector buffering.
//
// The engine is single-caller: a host driving one FS from multiple goroutines
// must serialize all calls touching it.
package sdfat

import (
	"context"
	"log/slog"
	"time"

	"github.com/soypat/sdfat/internal/mbr"
)

// FS is a mounted FAT volume. The zero value is unmounted; call Mount before
// any other operation. FS owns a single 512-byte FAT-sector window shared by
// every path that touches the FAT.
type FS struct {
	device BlockDevice
	log    *slog.Logger
	now    func() time.Time

	fstype  fstype
	mounted bool
	perm    Mode // access granted at mount (ModeRead and/or ModeWrite)

	nFATs    uint8
	csize    uint16 // sectors per cluster
	nrootdir uint16 // root directory entries, FAT12/16 only

	volbase  lba    // first sector of the volume (partition start)
	fatbase  lba    // first FAT sector
	rootsect lba    // first root directory sector, FAT12/16 only
	database lba    // first data sector
	fsize    uint32 // sectors per FAT
	totsec   uint32 // total sectors of the volume
	n_fatent uint32 // number of FAT entries = cluster count + 2
	rootclus uint32 // root directory cluster, FAT32 only

	label  [11]byte
	labeln int // label length after trailing-space trim
	serial uint32

	cwdCluster uint32
	cwdPath    string

	lastClst uint32 // allocation scan hint
	freeClst uint32 // cached free cluster count, freeUnknown when stale

	// Disk access window for FAT sectors.
	winsect lba
	wflag   bool // window dirty
	win     [SectorSize]byte

	// Reusable zero sector for cluster scrubbing.
	zero [SectorSize]byte
}

// SetLogger wires a structured logger into the engine. Nil disables logging.
func (fsys *FS) SetLogger(log *slog.Logger) { fsys.log = log }

// SetWallClock wires a wall-clock source used to timestamp created and
// modified directory entries. Nil selects a fixed 1980-01-01 epoch.
func (fsys *FS) SetWallClock(now func() time.Time) { fsys.now = now }

func (fsys *FS) wallClock() time.Time {
	if fsys.now == nil {
		return time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return fsys.now()
}

// Mount reads the boot record of the device, deriving the volume layout and
// FAT type. A master boot record with a recognized FAT partition redirects the
// parse to the first partition. Mounting an already-mounted FS returns
// ErrAlreadyMounted; Unmount first to remount.
func (fsys *FS) Mount(bd BlockDevice, mode Mode) error {
	if bd == nil || mode&^ModeRW != 0 || mode&ModeRW == 0 {
		return ErrInvalidParam
	}
	if fsys.mounted {
		return ErrAlreadyMounted
	}
	devMode := bd.Mode()
	if devMode == 0 {
		return ErrNoFilesystem
	}
	if uint8(mode)&devMode != uint8(mode) {
		return ErrReadOnly
	}
	fsys.device = bd
	fsys.perm = mode
	return fsys.mount_volume()
}

func (fsys *FS) mount_volume() error {
	fsys.fstype = fstypeUnknown
	fsys.invalidate_window()
	fsys.lastClst = 0
	fsys.freeClst = freeUnknown

	if err := fsys.move_window(0); err != nil {
		return err
	}
	bpb := biosParamBlock{data: fsys.win[:]}

	// A valid sector 0 whose first partition entry carries a FAT type byte is
	// an MBR; the BPB then lives at the partition's first sector.
	var partStart lba
	if bpb.BootSignature() == 0xAA55 {
		bs, _ := mbr.ToBootSector(fsys.win[:])
		pte := bs.PartitionTable(0)
		if pte.PartitionType().IsFAT() && pte.StartLBA() != 0 {
			partStart = lba(pte.StartLBA())
			if err := fsys.move_window(partStart); err != nil {
				return err
			}
		}
	}
	if bpb.BootSignature() != 0xAA55 {
		return ErrNoFilesystem
	}

	if bpb.SectorSize() != SectorSize {
		return ErrInvalidFilesystem
	}
	csize := bpb.SectorsPerCluster()
	if csize == 0 || csize&(csize-1) != 0 || csize > 128 {
		return ErrInvalidFilesystem
	}
	reserved := bpb.ReservedSectors()
	nFATs := bpb.NumberOfFATs()
	if reserved == 0 || nFATs == 0 {
		return ErrInvalidFilesystem
	}
	fsys.csize = csize
	fsys.nFATs = nFATs
	fsys.nrootdir = bpb.RootDirEntries()
	fsys.totsec = bpb.TotalSectors()
	fsys.fsize = bpb.SectorsPerFAT()

	// Layout derivation. The fixed root directory run only exists on
	// FAT12/16; FAT32 data begins right after the FATs.
	fsys.volbase = partStart
	fsys.fatbase = partStart + lba(reserved)
	rootSectors := (uint32(fsys.nrootdir)*sizeDirEntry + SectorSize - 1) / SectorSize
	fsys.rootsect = fsys.fatbase + lba(uint32(nFATs)*fsys.fsize)
	fsys.database = fsys.rootsect + lba(rootSectors)
	if fsys.totsec < uint32(fsys.database-partStart) {
		return ErrInvalidFilesystem
	}
	dataSectors := fsys.totsec - uint32(fsys.database-partStart)
	clusters := dataSectors / uint32(csize)
	if clusters == 0 {
		return ErrInvalidFilesystem
	}
	fsys.n_fatent = clusters + 2

	switch {
	case clusters <= clustMaxFAT12:
		fsys.fstype = fstypeFAT12
	case clusters <= clustMaxFAT16:
		fsys.fstype = fstypeFAT16
	default:
		fsys.fstype = fstypeFAT32
		fsys.rootclus = bpb.RootCluster()
		fsys.database = fsys.rootsect // no fixed root run
	}

	fat32 := fsys.fstype == fstypeFAT32
	fsys.label = bpb.VolumeLabel(fat32)
	fsys.labeln = 11
	for fsys.labeln > 0 && fsys.label[fsys.labeln-1] == ' ' {
		fsys.labeln--
	}
	fsys.serial = bpb.VolumeSerialNumber(fat32)

	if fat32 {
		fsys.readFSInfo(bpb.data)
	}

	fsys.cwdCluster = fsys.rootCluster()
	fsys.cwdPath = "/"
	fsys.mounted = true
	fsys.debug("mount",
		slog.String("type", fsys.fstype.String()),
		slog.Uint64("clusters", uint64(clusters)),
		slog.Uint64("clustersize", uint64(fsys.clusterSize())))
	return nil
}

// readFSInfo adopts the FAT32 FSInfo free-count and allocation hints when the
// sector validates. Bogus hints stay at the unknown sentinel.
func (fsys *FS) readFSInfo(bpbData []byte) {
	fsiSect := uint32(bpbData[bpbFSInfo32]) | uint32(bpbData[bpbFSInfo32+1])<<8
	if fsiSect != 1 {
		return
	}
	if err := fsys.move_window(fsys.volbase + 1); err != nil {
		return
	}
	w := fsys.win[:]
	leadOK := uint32(w[fsiLeadSig]) | uint32(w[fsiLeadSig+1])<<8 | uint32(w[fsiLeadSig+2])<<16 | uint32(w[fsiLeadSig+3])<<24
	strucOK := uint32(w[fsiStrucSig]) | uint32(w[fsiStrucSig+1])<<8 | uint32(w[fsiStrucSig+2])<<16 | uint32(w[fsiStrucSig+3])<<24
	if leadOK != fsiLeadValue || strucOK != fsiStrucValue {
		return
	}
	free := uint32(w[fsiFreeCount]) | uint32(w[fsiFreeCount+1])<<8 | uint32(w[fsiFreeCount+2])<<16 | uint32(w[fsiFreeCount+3])<<24
	next := uint32(w[fsiNxtFree]) | uint32(w[fsiNxtFree+1])<<8 | uint32(w[fsiNxtFree+2])<<16 | uint32(w[fsiNxtFree+3])<<24
	if free <= fsys.n_fatent-2 {
		fsys.freeClst = free
	}
	if next >= 2 && next < fsys.n_fatent {
		fsys.lastClst = next
	}
}

// Unmount flushes the FAT window, mirror copies included, and invalidates the
// mount. Open files and directories must be closed beforehand.
func (fsys *FS) Unmount() error {
	if !fsys.mounted {
		return ErrNotMounted
	}
	err := fsys.sync_window()
	fsys.mounted = false
	return err
}

// Sync flushes the FAT window, mirror copies included, without unmounting.
func (fsys *FS) Sync() error {
	if !fsys.mounted {
		return ErrNotMounted
	}
	return fsys.sync_window()
}

// IsMounted reports whether the FS has a mounted volume.
func (fsys *FS) IsMounted() bool { return fsys.mounted }

// Label returns the volume label with trailing spaces trimmed.
func (fsys *FS) Label() string { return string(fsys.label[:fsys.labeln]) }

// VolumeSerial returns the 32-bit volume serial number.
func (fsys *FS) VolumeSerial() uint32 { return fsys.serial }

func (fsys *FS) checkMounted() error {
	if !fsys.mounted {
		return ErrNotMounted
	}
	return nil
}

// rootCluster returns the cluster number representing the root directory:
// the FAT32 root cluster, or 0 for the fixed FAT12/16 root run.
func (fsys *FS) rootCluster() uint32 {
	if fsys.fstype == fstypeFAT32 {
		return fsys.rootclus
	}
	return 0
}

func (fsys *FS) clusterSize() uint32 {
	return uint32(fsys.csize) * SectorSize
}

// rootSectors returns the length of the fixed FAT12/16 root directory run.
func (fsys *FS) rootSectors() uint32 {
	return (uint32(fsys.nrootdir)*sizeDirEntry + SectorSize - 1) / SectorSize
}

// clst2sect returns the first physical sector of a cluster, or 0 if the
// cluster is out of range.
func (fsys *FS) clst2sect(clst uint32) lba {
	clst -= 2
	if clst >= fsys.n_fatent-2 {
		return 0
	}
	return fsys.database + lba(fsys.csize)*lba(clst)
}

func (fsys *FS) readSector(dst []byte, sector lba) error {
	_, err := fsys.device.ReadBlocks(dst[:SectorSize], int64(sector))
	return err
}

func (fsys *FS) writeSector(src []byte, sector lba) error {
	_, err := fsys.device.WriteBlocks(src[:SectorSize], int64(sector))
	return err
}

// move_window brings the requested FAT sector into the shared window, flushing
// the previous occupant if dirty.
func (fsys *FS) move_window(sector lba) error {
	if sector == fsys.winsect {
		return nil
	}
	if err := fsys.sync_window(); err != nil {
		return err
	}
	if err := fsys.readSector(fsys.win[:], sector); err != nil {
		fsys.logerror("move_window", slog.Uint64("sector", uint64(sector)))
		fsys.winsect = badLBA
		return err
	}
	fsys.winsect = sector
	return nil
}

// sync_window writes the window back if dirty. A window inside the first FAT
// is mirrored into every additional FAT copy at the same offset.
func (fsys *FS) sync_window() error {
	if !fsys.wflag {
		return nil
	}
	if err := fsys.writeSector(fsys.win[:], fsys.winsect); err != nil {
		fsys.logerror("sync_window", slog.Uint64("sector", uint64(fsys.winsect)))
		return err
	}
	if off := fsys.winsect - fsys.fatbase; off < lba(fsys.fsize) {
		for i := uint8(1); i < fsys.nFATs; i++ {
			// Redundancy write, ignore error.
			fsys.writeSector(fsys.win[:], fsys.winsect+lba(uint32(i)*fsys.fsize))
		}
	}
	fsys.wflag = false
	return nil
}

func (fsys *FS) invalidate_window() {
	fsys.wflag = false
	fsys.winsect = badLBA
}

// VolumeInfo aggregates volume geometry and usage. FreeClusters, FreeBytes and
// UsedBytes are only meaningful after the free count is known; call FreeBytes
// to force the lazy scan.
type VolumeInfo struct {
	Type          string
	Label         string
	Serial        uint32
	ClusterSize   uint32
	TotalClusters uint32
	FreeClusters  uint32 // 0xFFFFFFFF when unknown
	TotalBytes    uint64
	FreeBytes     uint64
	UsedBytes     uint64
}

// Info returns the volume's geometry and cached usage counters.
func (fsys *FS) Info() (VolumeInfo, error) {
	if err := fsys.checkMounted(); err != nil {
		return VolumeInfo{}, err
	}
	vi := VolumeInfo{
		Type:          fsys.fstype.String(),
		Label:         fsys.Label(),
		Serial:        fsys.serial,
		ClusterSize:   fsys.clusterSize(),
		TotalClusters: fsys.n_fatent - 2,
		FreeClusters:  fsys.freeClst,
		TotalBytes:    uint64(fsys.n_fatent-2) * uint64(fsys.clusterSize()),
	}
	if vi.FreeClusters != freeUnknown {
		vi.FreeBytes = uint64(vi.FreeClusters) * uint64(vi.ClusterSize)
		vi.UsedBytes = vi.TotalBytes - vi.FreeBytes
	}
	return vi, nil
}

// FreeBytes returns the free space of the volume, scanning the whole FAT on
// the first call after mount and caching the result.
func (fsys *FS) FreeBytes() (uint64, error) {
	if err := fsys.checkMounted(); err != nil {
		return 0, err
	}
	if fsys.freeClst == freeUnknown {
		free, err := fsys.countFreeClusters()
		if err != nil {
			return 0, err
		}
		fsys.freeClst = free
	}
	return uint64(fsys.freeClst) * uint64(fsys.clusterSize()), nil
}

func (fsys *FS) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if fsys.log == nil {
		return
	}
	fsys.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (fsys *FS) debug(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelDebug, msg, attrs...)
}

func (fsys *FS) logerror(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelError, msg, attrs...)
}
