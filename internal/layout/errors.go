package layout

import (
	"errors"
	"fmt"

	"github.com/crashlog/pmlog/internal/encoding"
)

// ErrCRCMismatch is returned whenever a CRC read alongside a metadata
// structure does not match the structure's computed checksum. Per spec
// §4.B this is impossible on a device known to be impervious to
// corruption; on any other device it means the last crash-free run did not
// durably and completely write the structure.
var ErrCRCMismatch = errors.New("layout: crc mismatch")

// StartFailedDueToProgramVersionNumberUnsupported is returned when a
// region's global metadata names a program version this code cannot
// interpret.
type StartFailedDueToProgramVersionNumberUnsupported struct {
	Version      uint64
	MaxSupported uint64
}

func (e *StartFailedDueToProgramVersionNumberUnsupported) Error() string {
	return fmt.Sprintf("layout: program version %d unsupported (max supported %d)", e.Version, e.MaxSupported)
}

// StartFailedDueToLogIDMismatch is returned when a region's ID field does
// not match the ID the caller opened it with.
type StartFailedDueToLogIDMismatch struct {
	Expected encoding.U128
	Read     encoding.U128
}

func (e *StartFailedDueToLogIDMismatch) Error() string {
	return fmt.Sprintf("layout: log/multilog id mismatch: expected %+v, read %+v", e.Expected, e.Read)
}

// StartFailedDueToRegionSizeMismatch is returned when a region's recorded
// size does not match the size of the bytes actually presented to Start.
type StartFailedDueToRegionSizeMismatch struct {
	Expected uint64
	Read     uint64
}

func (e *StartFailedDueToRegionSizeMismatch) Error() string {
	return fmt.Sprintf("layout: region size mismatch: expected %d, read %d", e.Expected, e.Read)
}

// StartFailedDueToInvalidMemoryContents covers every other layout
// invariant violation during recovery (spec §4.E step 2-6).
type StartFailedDueToInvalidMemoryContents struct {
	Reason string
}

func (e *StartFailedDueToInvalidMemoryContents) Error() string {
	return fmt.Sprintf("layout: invalid memory contents: %s", e.Reason)
}
