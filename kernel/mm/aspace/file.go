package aspace

import (
	"io"

	"procmm/kernel/sync"
)

// File is the interface implemented by files that can back a region. A read
// that returns zero bytes or io.EOF marks the end of the file.
type File interface {
	io.Reader
	io.Seeker
}

// FileRef is a File shared between the regions that map it and the file
// subsystem. Access to the underlying file is serialized by the FileRef.
type FileRef struct {
	lock sync.Spinlock
	file File
}

// NewFileRef wraps file so it can back one or more regions.
func NewFileRef(file File) *FileRef {
	return &FileRef{file: file}
}

// readFull seeks the file to offset and reads into buf until buf is full or
// the end of the file is reached. It returns the number of bytes read.
func (f *FileRef) readFull(buf []byte, offset uintptr) (int, error) {
	f.lock.Acquire()
	defer f.lock.Release()

	if _, err := f.file.Seek(int64(offset), io.SeekStart); err != nil {
		return 0, err
	}

	var pos int
	for pos < len(buf) {
		n, err := f.file.Read(buf[pos:])
		pos += n

		if err == io.EOF {
			break
		}
		if err != nil {
			return pos, err
		}

		// Short reads are retried; only an empty read ends the file.
		if n == 0 {
			break
		}
	}

	return pos, nil
}
