package sdfat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soypat/sdfat/internal/mbr"
)

func TestMountFAT16(t *testing.T) {
	fsys, _ := mountImage(t, geomFAT16())
	require.True(t, fsys.IsMounted())
	require.Equal(t, fstypeFAT16, fsys.fstype)
	require.Equal(t, "TESTFAT16", fsys.Label())
	require.Equal(t, uint32(0x16161616), fsys.VolumeSerial())
	require.Equal(t, uint32(4*SectorSize), fsys.clusterSize())
	require.Equal(t, uint32(0), fsys.rootCluster())
	// reserved + 2 FATs, then 32 root sectors, then data.
	require.Equal(t, lba(4+2*64), fsys.rootsect)
	require.Equal(t, lba(4+2*64+32), fsys.database)
	require.NoError(t, fsys.Unmount())
	require.False(t, fsys.IsMounted())
}

func TestMountFAT32(t *testing.T) {
	fsys, _ := mountImage(t, geomFAT32())
	require.Equal(t, fstypeFAT32, fsys.fstype)
	require.Equal(t, uint32(2), fsys.rootCluster())
	require.Equal(t, "TESTFAT32", fsys.Label())
	// FAT32 has no fixed root run: data begins right after the FATs.
	require.Equal(t, fsys.rootsect, fsys.database)
	vi, err := fsys.Info()
	require.NoError(t, err)
	require.Equal(t, "FAT32", vi.Type)
	require.Equal(t, uint32(8*SectorSize), vi.ClusterSize)
}

func TestMountFAT12(t *testing.T) {
	fsys, _ := mountImage(t, geomFAT12())
	require.Equal(t, fstypeFAT12, fsys.fstype)
	require.Equal(t, "TESTFAT12", fsys.Label())
}

// Mounting through a master boot record must read the BPB from the
// partition's first sector.
func TestMountPartitioned(t *testing.T) {
	g := geomFAT16()
	g.partStart = 2048
	g.partType = mbr.PartitionTypeFAT32LBA // 0x0C
	fsys, _ := mountImage(t, g)
	require.Equal(t, fstypeFAT16, fsys.fstype)
	require.Equal(t, lba(2048), fsys.volbase)
	require.Equal(t, lba(2048+4), fsys.fatbase)

	fi, err := fsys.Stat("/")
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

// The type decision is the Microsoft rule on cluster count alone, exact at
// the 4084/4085 and 65524/65525 boundaries.
func TestFATTypeBoundaries(t *testing.T) {
	cases := []struct {
		clusters uint32
		want     fstype
	}{
		{4084, fstypeFAT12},
		{4085, fstypeFAT16},
		{65524, fstypeFAT16},
		{65525, fstypeFAT32},
	}
	for _, tc := range cases {
		g := geom{
			spc:      1,
			reserved: 1,
			nfats:    1,
			label:    "BOUNDARY",
		}
		if tc.want == fstypeFAT32 {
			g.fat32 = true
			g.fatSectors = 512
			g.rootEntries = 0
		} else {
			g.fatSectors = 256
			g.rootEntries = 16
		}
		rootSectors := (uint32(g.rootEntries)*sizeDirEntry + SectorSize - 1) / SectorSize
		g.totalSectors = uint32(g.reserved) + uint32(g.nfats)*g.fatSectors + rootSectors + tc.clusters

		fsys, _ := mountImage(t, g)
		require.Equal(t, tc.want, fsys.fstype, "clusters=%d", tc.clusters)
		require.Equal(t, tc.clusters+2, fsys.n_fatent, "clusters=%d", tc.clusters)
	}
}

func TestMountRejectsBadVolumes(t *testing.T) {
	t.Run("no signature", func(t *testing.T) {
		d := newRAMDisk(64)
		fsys := new(FS)
		require.ErrorIs(t, fsys.Mount(d, ModeRW), ErrNoFilesystem)
	})
	t.Run("bad sector size", func(t *testing.T) {
		g := geomFAT16()
		d := buildImage(t, g)
		s := d.peek(0)
		bpb := biosParamBlock{data: s[:]}
		bpb.SetSectorSize(1024)
		_, err := d.WriteBlocks(s[:], 0)
		require.NoError(t, err)
		fsys := new(FS)
		require.ErrorIs(t, fsys.Mount(d, ModeRW), ErrInvalidFilesystem)
	})
	t.Run("sectors per cluster not power of two", func(t *testing.T) {
		g := geomFAT16()
		d := buildImage(t, g)
		s := d.peek(0)
		bpb := biosParamBlock{data: s[:]}
		bpb.SetSectorsPerCluster(3)
		_, err := d.WriteBlocks(s[:], 0)
		require.NoError(t, err)
		fsys := new(FS)
		require.ErrorIs(t, fsys.Mount(d, ModeRW), ErrInvalidFilesystem)
	})
	t.Run("zero reserved sectors", func(t *testing.T) {
		g := geomFAT16()
		d := buildImage(t, g)
		s := d.peek(0)
		bpb := biosParamBlock{data: s[:]}
		bpb.SetReservedSectors(0)
		_, err := d.WriteBlocks(s[:], 0)
		require.NoError(t, err)
		fsys := new(FS)
		require.ErrorIs(t, fsys.Mount(d, ModeRW), ErrInvalidFilesystem)
	})
}

func TestDoubleMountAndNotMounted(t *testing.T) {
	g := geomFAT16()
	d := buildImage(t, g)
	fsys := new(FS)
	require.NoError(t, fsys.Mount(d, ModeRW))
	require.ErrorIs(t, fsys.Mount(d, ModeRW), ErrAlreadyMounted)
	require.NoError(t, fsys.Unmount())
	require.ErrorIs(t, fsys.Unmount(), ErrNotMounted)
	require.ErrorIs(t, fsys.Sync(), ErrNotMounted)
	_, err := fsys.Stat("/")
	require.ErrorIs(t, err, ErrNotMounted)
}

func TestFreeBytesLazyScan(t *testing.T) {
	fsys, _ := mountImage(t, geomFAT16())
	require.Equal(t, uint32(freeUnknown), fsys.freeClst)
	free, err := fsys.FreeBytes()
	require.NoError(t, err)
	require.Equal(t, uint64(fsys.n_fatent-2)*uint64(fsys.clusterSize()), free)
	vi, err := fsys.Info()
	require.NoError(t, err)
	require.Equal(t, fsys.n_fatent-2, vi.FreeClusters)
	require.Equal(t, vi.TotalBytes, vi.FreeBytes)
	require.Equal(t, uint64(0), vi.UsedBytes)
}
