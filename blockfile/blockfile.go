// Package blockfile exposes a disk image file or raw block device as a
// 512-byte-sector block device mountable by the sdfat volume engine. It is
// the host-side counterpart of the sdcard driver, useful for tooling and for
// working on card images without hardware.
package blockfile

import (
	"errors"
	"fmt"
	"os"
)

// SectorSize is the fixed sector size of the device.
const SectorSize = 512

// Device is a file-backed block device. Open one with Open or OpenFile.
type Device struct {
	f        *os.File
	size     int64
	readOnly bool
}

// Open opens the named disk image or raw device. When readOnly is set the
// device reports read-only mode and rejects writes.
func Open(name string, readOnly bool) (*Device, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return nil, err
	}
	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockfile: size of %s: %w", name, err)
	}
	if size%SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("blockfile: %s size %d not sector aligned", name, size)
	}
	return &Device{f: f, size: size, readOnly: readOnly}, nil
}

// Create creates a zero-filled image file of numSectors sectors, truncating
// any existing file.
func Create(name string, numSectors int64) (*Device, error) {
	if numSectors <= 0 {
		return nil, errors.New("blockfile: invalid sector count")
	}
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	size := numSectors * SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &Device{f: f, size: size}, nil
}

// NumSectors returns the device size in sectors.
func (d *Device) NumSectors() int64 { return d.size / SectorSize }

// Size returns the device size in bytes.
func (d *Device) Size() int64 { return d.size }

// ReadBlocks reads whole sectors starting at startBlock.
func (d *Device) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	if startBlock < 0 || len(dst)%SectorSize != 0 {
		return 0, errors.New("blockfile: misaligned read")
	}
	off := startBlock * SectorSize
	if off+int64(len(dst)) > d.size {
		return 0, errors.New("blockfile: read past end of device")
	}
	return d.f.ReadAt(dst, off)
}

// WriteBlocks writes whole sectors starting at startBlock.
func (d *Device) WriteBlocks(data []byte, startBlock int64) (int, error) {
	if d.readOnly {
		return 0, errors.New("blockfile: device is read-only")
	}
	if startBlock < 0 || len(data)%SectorSize != 0 {
		return 0, errors.New("blockfile: misaligned write")
	}
	off := startBlock * SectorSize
	if off+int64(len(data)) > d.size {
		return 0, errors.New("blockfile: write past end of device")
	}
	return d.f.WriteAt(data, off)
}

// Mode reports 1 for read-only devices and 3 for read-write devices.
func (d *Device) Mode() uint8 {
	if d.readOnly {
		return 1
	}
	return 3
}

// Sync flushes the backing file to stable storage.
func (d *Device) Sync() error { return d.f.Sync() }

// Close closes the backing file.
func (d *Device) Close() error { return d.f.Close() }
