package aspace

import (
	"github.com/go-errors/errors"

	"procmm/kernel"
	"procmm/kernel/kfmt"
	"procmm/kernel/mm"
)

// PopulateFromFile fills length bytes of physical memory starting at phys
// with the contents of file starting at offset, which is rounded down to a
// page boundary. Bytes past the end of the file are zeroed. If reading the
// file fails, the bytes read so far are kept, the remainder is zeroed and the
// I/O error is returned wrapped with a stack trace.
//
// The physical range is expected to be mapped into the address space already.
// The address space lock is not held while the file is read.
func (as *AddressSpace) PopulateFromFile(phys, length uintptr, file *FileRef, offset uintptr) error {
	if length == 0 {
		return nil
	}

	virt := physToVirtFn(phys)
	if virt == 0 || physToVirtFn(phys+length-1) == 0 {
		return errUnbackedRange
	}

	offset = mm.AlignDown(offset)
	log := kfmt.Logger("aspace").
		WithField("id", as.id).
		WithField("offset", kfmt.Hex(offset)).
		WithField("len", kfmt.Hex(length))
	log.Debug("demand fill")

	filled, err := file.readFull(kernel.ByteSlice(virt, length), offset)
	if uintptr(filled) < length {
		kernel.Memset(virt+uintptr(filled), 0, length-uintptr(filled))
	}

	if err != nil {
		log.WithField("filled", filled).WithError(err).Warn("demand fill failed")
		return errors.WrapPrefix(err, "demand fill", 0)
	}

	return nil
}
