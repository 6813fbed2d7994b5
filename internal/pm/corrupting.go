package pm

// CorruptingDevice wraps another Device and flips bits in specific byte
// ranges on Read, to deterministically exercise the CRCMismatch recovery
// path (spec §4.B, §7) without relying on a real hardware fault.
type CorruptingDevice struct {
	inner Device
	flips map[uint64]byte // addr -> XOR mask applied on read
}

// NewCorruptingDevice wraps inner. By default it behaves identically to
// inner; use Corrupt to arrange for specific bytes to read back wrong.
func NewCorruptingDevice(inner Device) *CorruptingDevice {
	return &CorruptingDevice{inner: inner, flips: make(map[uint64]byte)}
}

// Corrupt arranges for the byte at addr to be XORed with mask on every
// subsequent Read that covers it. A zero mask is a no-op.
func (c *CorruptingDevice) Corrupt(addr uint64, mask byte) {
	c.flips[addr] = mask
}

// ClearCorruption removes all injected bit flips.
func (c *CorruptingDevice) ClearCorruption() {
	c.flips = make(map[uint64]byte)
}

// RegionSize implements Device.
func (c *CorruptingDevice) RegionSize() uint64 { return c.inner.RegionSize() }

// ChunkSize implements Device.
func (c *CorruptingDevice) ChunkSize() uint64 { return c.inner.ChunkSize() }

// Impervious implements Device; a CorruptingDevice is never impervious —
// that is the point of it.
func (c *CorruptingDevice) Impervious() bool { return false }

// Write implements Device.
func (c *CorruptingDevice) Write(addr uint64, data []byte) error {
	return c.inner.Write(addr, data)
}

// Flush implements Device.
func (c *CorruptingDevice) Flush() error { return c.inner.Flush() }

// Read implements Device, applying any configured bit flips to the result.
func (c *CorruptingDevice) Read(addr, n uint64) ([]byte, error) {
	out, err := c.inner.Read(addr, n)
	if err != nil {
		return nil, err
	}
	for a, mask := range c.flips {
		if a >= addr && a < addr+n {
			out[a-addr] ^= mask
		}
	}
	return out, nil
}
