package sdfat

import (
	"errors"
	"testing"

	"github.com/soypat/sdfat/internal/mbr"
	"github.com/soypat/sdfat/sdcard"
)

// The card driver must satisfy the volume engine's device contract.
var _ BlockDevice = (*sdcard.Card)(nil)

// ramDisk is a sparse in-memory block device. Unwritten sectors read as
// zeroes, which keeps multi-hundred-megabyte FAT32 test images cheap.
type ramDisk struct {
	sectors int64
	data    map[int64]*[SectorSize]byte
}

func newRAMDisk(sectors int64) *ramDisk {
	return &ramDisk{sectors: sectors, data: make(map[int64]*[SectorSize]byte)}
}

func (d *ramDisk) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	if startBlock < 0 || len(dst)%SectorSize != 0 {
		return 0, errors.New("misaligned read")
	}
	n := int64(len(dst) / SectorSize)
	if startBlock+n > d.sectors {
		return 0, errors.New("read past end of device")
	}
	for i := int64(0); i < n; i++ {
		blk := d.data[startBlock+i]
		if blk == nil {
			clear(dst[i*SectorSize : (i+1)*SectorSize])
		} else {
			copy(dst[i*SectorSize:], blk[:])
		}
	}
	return len(dst), nil
}

func (d *ramDisk) WriteBlocks(data []byte, startBlock int64) (int, error) {
	if startBlock < 0 || len(data)%SectorSize != 0 {
		return 0, errors.New("misaligned write")
	}
	n := int64(len(data) / SectorSize)
	if startBlock+n > d.sectors {
		return 0, errors.New("write past end of device")
	}
	for i := int64(0); i < n; i++ {
		blk := d.data[startBlock+i]
		if blk == nil {
			blk = new([SectorSize]byte)
			d.data[startBlock+i] = blk
		}
		copy(blk[:], data[i*SectorSize:(i+1)*SectorSize])
	}
	return len(data), nil
}

func (d *ramDisk) Mode() uint8 { return 3 }

// peek returns one sector's content, zeroes for never-written sectors.
func (d *ramDisk) peek(sector int64) [SectorSize]byte {
	if blk := d.data[sector]; blk != nil {
		return *blk
	}
	return [SectorSize]byte{}
}

func (d *ramDisk) poke(t *testing.T, sector int64, off int, b []byte) {
	t.Helper()
	blk := d.peek(sector)
	copy(blk[off:], b)
	if _, err := d.WriteBlocks(blk[:], sector); err != nil {
		t.Fatal(err)
	}
}

// geom describes a test volume for buildImage.
type geom struct {
	totalSectors uint32 // partition-relative sector count
	spc          uint16
	reserved     uint16
	nfats        uint8
	rootEntries  uint16 // FAT12/16 only
	fatSectors   uint32
	fat32        bool
	label        string
	serial       uint32
	partStart    uint32 // nonzero: MBR at sector 0, BPB at partStart
	partType     mbr.PartitionType
}

func geomFAT12() geom {
	return geom{totalSectors: 4096, spc: 1, reserved: 1, nfats: 2,
		rootEntries: 128, fatSectors: 12, label: "TESTFAT12", serial: 0x12121212}
}

// geomFAT16 is a 32MiB FAT16 volume with 4-sector clusters.
func geomFAT16() geom {
	return geom{totalSectors: 65536, spc: 4, reserved: 4, nfats: 2,
		rootEntries: 512, fatSectors: 64, label: "TESTFAT16", serial: 0x16161616}
}

// geomFAT32 is a ~270MiB FAT32 volume with 8-sector clusters (4KiB).
func geomFAT32() geom {
	return geom{totalSectors: 552960, spc: 8, reserved: 32, nfats: 2,
		fatSectors: 540, fat32: true, label: "TESTFAT32", serial: 0x32323232}
}

// buildImage materializes a blank FAT volume in memory: BPB, reserved FAT
// entries, optionally an MBR in front.
func buildImage(t *testing.T, g geom) *ramDisk {
	t.Helper()
	d := newRAMDisk(int64(g.partStart) + int64(g.totalSectors))

	var sector [SectorSize]byte
	bpb := biosParamBlock{data: sector[:]}
	bpb.SetSectorSize(SectorSize)
	bpb.SetSectorsPerCluster(g.spc)
	bpb.SetReservedSectors(g.reserved)
	bpb.SetNumberOfFATs(g.nfats)
	bpb.SetRootDirEntries(g.rootEntries)
	bpb.SetTotalSectors(g.totalSectors)
	if g.fat32 {
		bpb.SetSectorsPerFAT(g.fatSectors)
		bpb.SetRootCluster(2)
	} else {
		bpb.SetSectorsPerFAT16(uint16(g.fatSectors))
	}
	bpb.SetVolumeLabel(g.label, g.fat32)
	bpb.SetVolumeSerialNumber(g.serial, g.fat32)
	bpb.SetBootSignature()
	if _, err := d.WriteBlocks(sector[:], int64(g.partStart)); err != nil {
		t.Fatal(err)
	}

	if g.partStart > 0 {
		var s0 [SectorSize]byte
		bs, err := mbr.ToBootSector(s0[:])
		if err != nil {
			t.Fatal(err)
		}
		pt := g.partType
		if pt == 0 {
			pt = mbr.PartitionTypeFAT16
		}
		bs.SetPartitionTable(0, mbr.MakePTE(pt, g.partStart, g.totalSectors))
		bs.SetBootSignature()
		if _, err := d.WriteBlocks(s0[:], 0); err != nil {
			t.Fatal(err)
		}
	}

	// Reserved FAT entries 0 and 1, mirrored into every FAT copy. FAT32
	// additionally terminates the root directory chain at cluster 2. The
	// entry width follows the cluster count the same way mounting does.
	rootSectors := (uint32(g.rootEntries)*sizeDirEntry + SectorSize - 1) / SectorSize
	sysect := uint32(g.reserved) + uint32(g.nfats)*g.fatSectors + rootSectors
	clusters := (g.totalSectors - sysect) / uint32(g.spc)
	var fat0 [SectorSize]byte
	switch {
	case clusters > clustMaxFAT16:
		copy(fat0[:], []byte{
			0xF8, 0xFF, 0xFF, 0x0F,
			0xFF, 0xFF, 0xFF, 0x0F,
			0xFF, 0xFF, 0xFF, 0x0F, // root chain end
		})
	case clusters > clustMaxFAT12:
		copy(fat0[:], []byte{0xF8, 0xFF, 0xFF, 0xFF})
	default:
		copy(fat0[:], []byte{0xF8, 0xFF, 0xFF})
	}
	fatStart := int64(g.partStart) + int64(g.reserved)
	for i := 0; i < int(g.nfats); i++ {
		if _, err := d.WriteBlocks(fat0[:], fatStart+int64(i)*int64(g.fatSectors)); err != nil {
			t.Fatal(err)
		}
	}
	return d
}

// mountImage builds the image and mounts it read-write.
func mountImage(t *testing.T, g geom) (*FS, *ramDisk) {
	t.Helper()
	d := buildImage(t, g)
	fsys := new(FS)
	if err := fsys.Mount(d, ModeRW); err != nil {
		t.Fatalf("mount: %v", err)
	}
	return fsys, d
}
