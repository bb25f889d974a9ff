/*
package mbr implements Master Boot Record partition table decoding for volume
mounting, plus enough of a writer to build partitioned images.
*/
package mbr

import (
	"encoding/binary"
	"errors"
)

const (
	bootstrapLen     = 440
	uniqueDiskIDOff  = bootstrapLen
	uniqueDiskIDLen  = 4
	reservedLen      = 2
	pteOffset        = bootstrapLen + uniqueDiskIDLen + reservedLen
	pteLen           = 16 // partition table entry length
	bootSignatureOff = 510
	BootSignature    = 0xAA55
)

// ToBootSector converts a byte slice to an MBR BootSector while maintaining a
// reference to the original byte slice. The byte slice must be at least 512
// bytes long and the first byte of the slice must be the first byte of the MBR.
func ToBootSector(start []byte) (BootSector, error) {
	if len(start) < 512 {
		return BootSector{}, errors.New("boot sector too short")
	}
	return BootSector{data: start[:512:512]}, nil
}

// BootSector is a Master Boot Record: bootstrap code, four partition table
// entries and a boot signature.
type BootSector struct {
	data []byte
}

// PartitionTableEntry represents one of the four partition table entries in the MBR.
// See https://en.wikipedia.org/wiki/Master_boot_record#PTE for the layout.
type PartitionTableEntry struct {
	data [pteLen]byte
}

// BootSignature returns the boot signature of the MBR. This is a magic number
// that indicates that this is a valid MBR.
func (mbr *BootSector) BootSignature() uint16 {
	return binary.LittleEndian.Uint16(mbr.data[bootSignatureOff : bootSignatureOff+2])
}

// SetBootSignature writes the 0xAA55 magic.
func (mbr *BootSector) SetBootSignature() {
	binary.LittleEndian.PutUint16(mbr.data[bootSignatureOff:bootSignatureOff+2], BootSignature)
}

// UniqueDiskID returns the 32-bit disk identifier preceding the partition table.
func (mbr *BootSector) UniqueDiskID() uint32 {
	return binary.LittleEndian.Uint32(mbr.data[uniqueDiskIDOff : uniqueDiskIDOff+uniqueDiskIDLen])
}

// PartitionTable returns the idx'th partition table entry of the MBR.
func (mbr *BootSector) PartitionTable(idx int) PartitionTableEntry {
	if idx > 3 {
		panic("invalid partition table index")
	}
	return PartitionTableEntry{
		data: [pteLen]byte(mbr.data[pteOffset+idx*pteLen : pteOffset+(idx+1)*pteLen]),
	}
}

// SetPartitionTable sets the idx'th partition table entry of the MBR.
func (mbr *BootSector) SetPartitionTable(idx int, pte PartitionTableEntry) {
	if idx > 3 {
		panic("invalid partition table index")
	}
	copy(mbr.data[pteOffset+idx*pteLen:pteOffset+(idx+1)*pteLen], pte.data[:])
}

// MakePTE creates a new partition table entry from the given parameters.
func MakePTE(Type PartitionType, startLBA, numLBA uint32) PartitionTableEntry {
	pte := PartitionTableEntry{}
	pte.data[4] = byte(Type)
	binary.LittleEndian.PutUint32(pte.data[8:12], startLBA)
	binary.LittleEndian.PutUint32(pte.data[12:16], numLBA)
	return pte
}

// PartitionType returns the type the partition refers to, such as if the
// partition is formatted as FAT16, FAT32, NTFS, Linux etc.
func (pte *PartitionTableEntry) PartitionType() PartitionType {
	return PartitionType(pte.data[4])
}

// StartLBA returns the starting sector of the partition in LBA format (logical block address).
func (pte *PartitionTableEntry) StartLBA() uint32 {
	return binary.LittleEndian.Uint32(pte.data[8:12])
}

// NumberOfLBA returns the number of sectors (logical block addresses) in the partition.
func (pte *PartitionTableEntry) NumberOfLBA() uint32 {
	return binary.LittleEndian.Uint32(pte.data[12:16])
}

// PartitionType refers to the type of partition the Partition Table Entry refers to.
type PartitionType byte

const (
	PartitionTypeUnused     PartitionType = 0x00
	PartitionTypeFAT12      PartitionType = 0x01
	PartitionTypeFAT16Small PartitionType = 0x04
	PartitionTypeFAT16      PartitionType = 0x06
	PartitionTypeFAT32CHS   PartitionType = 0x0B
	PartitionTypeFAT32LBA   PartitionType = 0x0C
	PartitionTypeFAT16LBA   PartitionType = 0x0E
	PartitionTypeNTFS       PartitionType = 0x07 // Also includes exFAT.
	PartitionTypeLinux      PartitionType = 0x83
)

// IsFAT reports whether the type byte names a FAT variant mountable by the
// volume engine.
func (pt PartitionType) IsFAT() bool {
	switch pt {
	case PartitionTypeFAT12, PartitionTypeFAT16Small, PartitionTypeFAT16,
		PartitionTypeFAT32CHS, PartitionTypeFAT32LBA, PartitionTypeFAT16LBA:
		return true
	}
	return false
}
