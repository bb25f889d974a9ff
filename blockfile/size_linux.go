//go:build linux

package blockfile

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// deviceSize returns the byte size of a regular image file or, for raw block
// devices where seeking misreports, the BLKGETSIZE64 ioctl result.
func deviceSize(f *os.File) (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if st.Mode().IsRegular() {
		return st.Size(), nil
	}
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno == 0 && size > 0 {
		return int64(size), nil
	}
	return f.Seek(0, io.SeekEnd)
}
