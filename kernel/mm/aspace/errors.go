package aspace

import "procmm/kernel"

var (
	// ErrMisaligned is returned when an address or length supplied to an
	// address space operation is not page-aligned.
	ErrMisaligned = &kernel.Error{Module: "aspace", Message: "address or length is not page-aligned"}

	// ErrInvalidRegion is returned for regions that are empty, inverted or
	// reach past the end of the user half.
	ErrInvalidRegion = &kernel.Error{Module: "aspace", Message: "region bounds are invalid"}

	// ErrRegionOverlap is returned when a region intersects a region that is
	// already part of the address space.
	ErrRegionOverlap = &kernel.Error{Module: "aspace", Message: "region overlaps an existing region"}

	// ErrFileAlreadyAttached is returned by AttachFile when the region is
	// already backed by a file.
	ErrFileAlreadyAttached = &kernel.Error{Module: "aspace", Message: "region already has a backing file"}

	// ErrSegmentationFault is returned by HandleFault for addresses that are
	// not covered by any region.
	ErrSegmentationFault = &kernel.Error{Module: "aspace", Message: "address is not covered by any region"}

	// ErrProtectionFault is reported for faults on present pages whose
	// protections forbid the access.
	ErrProtectionFault = &kernel.Error{Module: "aspace", Message: "access violates page protections"}

	errReleased          = &kernel.Error{Module: "aspace", Message: "address space has been released"}
	errUnbackedRange     = &kernel.Error{Module: "aspace", Message: "physical range is not backed by memory"}
	errMalformedRoot     = &kernel.Error{Module: "aspace", Message: "address space has a malformed page table root"}
	errRefCountUnderflow = &kernel.Error{Module: "aspace", Message: "address space reference count underflow"}
)
