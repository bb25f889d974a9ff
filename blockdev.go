package sdfat

// BlockDevice is the sector-granular storage a volume mounts on. The sdcard
// package's Card satisfies it, as do the blockfile package's image-backed
// devices and in-memory devices used in tests.
//
// Reads and writes transfer whole 512-byte sectors; slice lengths must be
// multiples of 512. startBlock is a sector index, never a byte offset.
type BlockDevice interface {
	ReadBlocks(dst []byte, startBlock int64) (int, error)
	WriteBlocks(data []byte, startBlock int64) (int, error)
	// Mode returns 0 for no connection/prohibited access, 1 for read-only,
	// 3 for read-write.
	Mode() uint8
}
