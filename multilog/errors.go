// Package multilog implements the multi-region log engine: the same
// tentative-append/commit/advance-head/read surface as package log,
// extended across an ordered sequence of regions that commit atomically
// through a single CDB flip in region 0 (spec §4.G).
package multilog

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
// not match the multilog_id it was opened with.
type StartFailedDueToLogIDMismatch = layout.StartFailedDueToLogIDMismatch

// StartFailedDueToRegionSizeMismatch is returned by Start when a region's
// recorded size does not match its device's actual size.
type StartFailedDueToRegionSizeMismatch = layout.StartFailedDueToRegionSizeMismatch

// StartFailedDueToInvalidMemoryContents covers every other layout invariant
// violation surfaced during Start.
type StartFailedDueToInvalidMemoryContents = layout.StartFailedDueToInvalidMemoryContents

// ErrInsufficientSpaceForSetup is returned by Setup when a region is too
// small to hold the minimum log area.
var ErrInsufficientSpaceForSetup = errors.New("multilog: insufficient space for setup")

// ErrCantSetupWithFewerThanOneRegion is returned by Setup when called with
// zero devices.
var ErrCantSetupWithFewerThanOneRegion = errors.New("multilog: cannot set up a multilog with fewer than one region")

// ChunkSizeMismatch is returned by Setup and Start when the chunk size
// declared via WithChunkSize does not match a region device's actual
// ChunkSize.
type ChunkSizeMismatch struct {
	WhichLog int
	Declared uint64
	Actual   uint64
}

func (e *ChunkSizeMismatch) Error() string {
	return fmt.Sprintf("multilog: chunk size %d declared via WithChunkSize does not match device chunk size %d on region %d", e.Declared, e.Actual, e.WhichLog)
}

// MaxLogsPerMultilog bounds the number of regions a multilog may span,
// matching the region-metadata num_logs field's u32 width in practice while
// keeping per-commit work bounded (spec §9 supplemented feature: the source
// leaves this unbounded, but an unbounded fan-out makes commit's per-region
// loop an unbounded-latency operation).
const MaxLogsPerMultilog = 1 << 16

// TooManyRegions is returned by Setup when called with more than
// MaxLogsPerMultilog devices.
type TooManyRegions struct {
	Requested int
	Max       int
}

func (e *TooManyRegions) Error() string {
	return fmt.Sprintf("multilog: %d regions requested, exceeds maximum of %d", e.Requested, e.Max)
}

// InsufficientSpaceForAppend is returned by TentativeAppend when the
// requested bytes would not fit in the named region's remaining capacity.
type InsufficientSpaceForAppend struct {
	WhichLog       int
	AvailableSpace uint64
}

func (e *InsufficientSpaceForAppend) Error() string {
	return fmt.Sprintf("multilog: insufficient space for append to log %d: %d bytes available", e.WhichLog, e.AvailableSpace)
}

// CantReadBeforeHead is returned by Read when pos precedes the named log's
// head.
type CantReadBeforeHead struct {
	WhichLog int
	Head     encoding.U128
}

func (e *CantReadBeforeHead) Error() string {
	return fmt.Sprintf("multilog: cannot read before head %+v on log %d", e.Head, e.WhichLog)
}

// CantReadPastTail is returned by Read when the requested range extends
// past the named log's committed tail.
type CantReadPastTail struct {
	WhichLog int
	Tail     encoding.U128
}

func (e *CantReadPastTail) Error() string {
	return fmt.Sprintf("multilog: cannot read past tail %+v on log %d", e.Tail, e.WhichLog)
}

// CantAdvanceHeadPositionBeforeHead is returned by AdvanceHead when a
// requested position precedes the current head of the named log.
type CantAdvanceHeadPositionBeforeHead struct {
	WhichLog int
	Head     encoding.U128
}

func (e *CantAdvanceHeadPositionBeforeHead) Error() string {
	return fmt.Sprintf("multilog: cannot advance head before current head %+v on log %d", e.Head, e.WhichLog)
}

// CantAdvanceHeadPositionBeyondTail is returned by AdvanceHead when a
// requested position exceeds the committed tail of the named log.
type CantAdvanceHeadPositionBeyondTail struct {
	WhichLog int
	Tail     encoding.U128
}

func (e *CantAdvanceHeadPositionBeyondTail) Error() string {
	return fmt.Sprintf("multilog: cannot advance head beyond tail %+v on log %d", e.Tail, e.WhichLog)
}
