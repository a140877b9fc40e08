package lanchain

// addr.go hands out IPv4 subnets for segments.  Terminal-facing segments and
// backbone segments draw from two disjoint pools, each block being one
// fixed-width subnet carved in increasing order out of its pool.

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// SubnetPurpose selects the pool a subnet is drawn from
type SubnetPurpose int

const (
	TerminalSegment SubnetPurpose = iota
	BackboneSegment
)

// String returns the name used in logs and descriptions
func (sp SubnetPurpose) String() string {
	switch sp {
	case TerminalSegment:
		return "terminal-segment"
	case BackboneSegment:
		return "backbone-segment"
	}
	return "unknown"
}

// A Subnet is one block of IPv4 addresses assigned to exactly one segment
type Subnet struct {
	Prefix netip.Prefix
}

// String gives the CIDR form, e.g. 10.1.1.0/24
func (sn Subnet) String() string {
	return sn.Prefix.String()
}

// Base returns the network address of the subnet
func (sn Subnet) Base() netip.Addr {
	return sn.Prefix.Addr()
}

// Mask returns the dotted-quad netmask of the subnet
func (sn Subnet) Mask() netip.Addr {
	mask := ^uint32(0) << (32 - sn.Prefix.Bits())
	return u32ToAddr(mask)
}

// Size is the number of addresses in the block, network and broadcast included
func (sn Subnet) Size() int {
	return 1 << (32 - sn.Prefix.Bits())
}

// Host returns the address of host number idx (1 is the first usable address).
// Index 0 is the network address and the last one is the broadcast address, so
// both are refused.
func (sn Subnet) Host(idx int) (netip.Addr, error) {
	if idx < 1 || idx >= sn.Size()-1 {
		return netip.Addr{}, fmt.Errorf("%w: host %d does not fit in %s", ErrExhaustedAddressSpace, idx, sn)
	}
	return u32ToAddr(addrToU32(sn.Base()) + uint32(idx)), nil
}

// Overlaps reports whether two subnets share any address
func (sn Subnet) Overlaps(other Subnet) bool {
	return sn.Prefix.Overlaps(other.Prefix)
}

// Contains reports whether the address falls inside the subnet
func (sn Subnet) Contains(addr netip.Addr) bool {
	return sn.Prefix.Contains(addr)
}

// AddrConfig describes the two address pools and the block width
type AddrConfig struct {
	// pool for terminal-facing segments, e.g. 10.1.0.0/16
	TerminalPool string `json:"terminalpool" yaml:"terminalpool"`

	// pool for router-to-router segments, e.g. 76.1.0.0/16
	BackbonePool string `json:"backbonepool" yaml:"backbonepool"`

	// prefix length of each allocated block, e.g. 24
	Width int `json:"width" yaml:"width"`
}

// DefaultAddrConfig returns the pools used by the reference scenarios
func DefaultAddrConfig() AddrConfig {
	return AddrConfig{TerminalPool: "10.1.0.0/16", BackbonePool: "76.1.0.0/16", Width: 24}
}

// addrPool is one monotonically increasing counter space of blocks
type addrPool struct {
	pool  netip.Prefix
	width int
	next  uint32 // index of the next block to hand out
	limit uint32 // number of blocks in the pool
}

// AddressAllocator hands out non-overlapping subnets in deterministic order
type AddressAllocator struct {
	pools map[SubnetPurpose]*addrPool
}

// NewAddressAllocator checks the configuration and creates an allocator
func NewAddressAllocator(cfg AddrConfig) (*AddressAllocator, error) {
	dflt := DefaultAddrConfig()
	if len(cfg.TerminalPool) == 0 {
		cfg.TerminalPool = dflt.TerminalPool
	}
	if len(cfg.BackbonePool) == 0 {
		cfg.BackbonePool = dflt.BackbonePool
	}
	if cfg.Width == 0 {
		cfg.Width = dflt.Width
	}

	termPool, err1 := createAddrPool(cfg.TerminalPool, cfg.Width)
	bbPool, err2 := createAddrPool(cfg.BackbonePool, cfg.Width)
	if err := ReportErrs([]error{err1, err2}); err != nil {
		return nil, err
	}

	// the two address spaces must never collide
	if termPool.pool.Overlaps(bbPool.pool) {
		return nil, fmt.Errorf("%w: terminal pool %s overlaps backbone pool %s",
			ErrExhaustedAddressSpace, termPool.pool, bbPool.pool)
	}

	aa := new(AddressAllocator)
	aa.pools = map[SubnetPurpose]*addrPool{TerminalSegment: termPool, BackboneSegment: bbPool}
	return aa, nil
}

// createAddrPool parses the pool and checks the block width against it
func createAddrPool(pool string, width int) (*addrPool, error) {
	prefix, err := netip.ParsePrefix(pool)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pool %q: %v", ErrExhaustedAddressSpace, pool, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("%w: pool %s is not IPv4", ErrExhaustedAddressSpace, pool)
	}
	prefix = prefix.Masked()

	// a block needs at least two bits of host space to carry any host
	if width <= prefix.Bits() || width > 30 {
		return nil, fmt.Errorf("%w: width /%d cannot be carved out of %s", ErrExhaustedAddressSpace, width, prefix)
	}

	ap := new(addrPool)
	ap.pool = prefix
	ap.width = width

	// block 0 would reuse the pool's own network address (10.1.0.0), the
	// reference configurations start numbering at 1
	ap.next = 1
	ap.limit = uint32(1) << (width - prefix.Bits())
	return ap, nil
}

// Next returns the next unused subnet of the pool selected by purpose
func (aa *AddressAllocator) Next(purpose SubnetPurpose) (Subnet, error) {
	ap, present := aa.pools[purpose]
	if !present {
		return Subnet{}, fmt.Errorf("%w: no pool for %s", ErrExhaustedAddressSpace, purpose)
	}
	if ap.next >= ap.limit {
		return Subnet{}, fmt.Errorf("%w: %s pool %s has no /%d left", ErrExhaustedAddressSpace, purpose, ap.pool, ap.width)
	}

	base := addrToU32(ap.pool.Addr()) + ap.next<<(32-ap.width)
	ap.next += 1

	return Subnet{Prefix: netip.PrefixFrom(u32ToAddr(base), ap.width)}, nil
}

// addrToU32 converts an IPv4 address to its integer value
func addrToU32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

// u32ToAddr is the inverse of addrToU32
func u32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
