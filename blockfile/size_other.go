//go:build !linux

package blockfile

import (
	"io"
	"os"
)

// deviceSize returns the byte size of the backing file by seeking to its end.
func deviceSize(f *os.File) (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if st.Mode().IsRegular() {
		return st.Size(), nil
	}
	return f.Seek(0, io.SeekEnd)
}
