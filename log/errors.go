// Package log implements the single-region append-only log engine: bounded
// capacity, tentative append, atomic commit, and head-advance (trim), on top
// of internal/layout's on-media format and internal/permission's write
// discipline (spec §4.F).
package log

import (
	"errors"
	"fmt"

	"github.com/crashlog/pmlog/internal/encoding"
	"github.com/crashlog/pmlog/internal/layout"
)

// CRCMismatch is returned whenever a CRC read alongside on-media metadata
// does not match, impossible on a device known to be impervious to
// corruption.
var CRCMismatch = layout.ErrCRCMismatch

// StartFailedDueToProgramVersionNumberUnsupported is returned by Start when
// a region's global metadata names an unsupported program version.
type StartFailedDueToProgramVersionNumberUnsupported = layout.StartFailedDueToProgramVersionNumberUnsupported

// StartFailedDueToLogIDMismatch is returned by Start when a region's ID does
// not match the log_id it was opened with.
type StartFailedDueToLogIDMismatch = layout.StartFailedDueToLogIDMismatch

// StartFailedDueToRegionSizeMismatch is returned by Start when a region's
// recorded size does not match the device's actual size.
type StartFailedDueToRegionSizeMismatch = layout.StartFailedDueToRegionSizeMismatch

// StartFailedDueToInvalidMemoryContents covers every other layout invariant
// violation surfaced during Start.
type StartFailedDueToInvalidMemoryContents = layout.StartFailedDueToInvalidMemoryContents

// ErrInsufficientSpaceForSetup is returned by Setup when the device is too
// small to hold the minimum log area.
var ErrInsufficientSpaceForSetup = errors.New("log: insufficient space for setup")

// ChunkSizeMismatch is returned by Setup and Start when the chunk size
// declared via WithChunkSize does not match the device's actual ChunkSize.
type ChunkSizeMismatch struct {
	Declared uint64
	Actual   uint64
}

func (e *ChunkSizeMismatch) Error() string {
	return fmt.Sprintf("log: chunk size %d declared via WithChunkSize does not match device chunk size %d", e.Declared, e.Actual)
}

// InsufficientSpaceForAppend is returned by TentativeAppend when the
// requested bytes would not fit in the remaining capacity.
type InsufficientSpaceForAppend struct {
	AvailableSpace uint64
}

func (e *InsufficientSpaceForAppend) Error() string {
	return fmt.Sprintf("log: insufficient space for append: %d bytes available", e.AvailableSpace)
}

// CantReadBeforeHead is returned by Read when pos precedes the log's head.
type CantReadBeforeHead struct {
	Head encoding.U128
}

func (e *CantReadBeforeHead) Error() string {
	return fmt.Sprintf("log: cannot read before head %+v", e.Head)
}

// CantReadPastTail is returned by Read when the requested range extends
// past the committed tail.
type CantReadPastTail struct {
	Tail encoding.U128
}

func (e *CantReadPastTail) Error() string {
	return fmt.Sprintf("log: cannot read past tail %+v", e.Tail)
}

// CantAdvanceHeadPositionBeforeHead is returned by AdvanceHead when the
// requested position precedes the current head.
type CantAdvanceHeadPositionBeforeHead struct {
	Head encoding.U128
}

func (e *CantAdvanceHeadPositionBeforeHead) Error() string {
	return fmt.Sprintf("log: cannot advance head before current head %+v", e.Head)
}

// CantAdvanceHeadPositionBeyondTail is returned by AdvanceHead when the
// requested position exceeds the committed tail.
type CantAdvanceHeadPositionBeyondTail struct {
	Tail encoding.U128
}

func (e *CantAdvanceHeadPositionBeyondTail) Error() string {
	return fmt.Sprintf("log: cannot advance head beyond tail %+v", e.Tail)
}
