// Package addressing carves subdivision address blocks out of a network's
// address block.
package addressing

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/EvilSuperstars/go-cidrman"
)

// MaxSubdivisions is the largest number of subdivisions one request may ask for.
const MaxSubdivisions = 256

// Strategy names an allocation scheme.
type Strategy string

const (
	// StrategySubdivide carves consecutive equally sized blocks from the
	// start of the parent block.
	StrategySubdivide Strategy = "subdivide"

	// StrategyFixedOctet places block i at <prefix>.<i>.0/24 regardless of
	// the parent, as earlier deployments did.
	StrategyFixedOctet Strategy = "fixed-octet"
)

// Config selects and parameterizes an allocation strategy.
type Config struct {
	Strategy Strategy `yaml:"strategy" env:"STRATEGY" validate:"omitempty,oneof=subdivide fixed-octet"`

	// PrefixLength is the size of every block carved by StrategySubdivide.
	PrefixLength int `yaml:"prefix_length" env:"PREFIX_LENGTH" validate:"omitempty,min=1,max=32"`

	// FixedPrefix is the two leading octets used by StrategyFixedOctet.
	FixedPrefix string `yaml:"fixed_prefix" env:"FIXED_PREFIX"`
}

// DefaultConfig returns the subdivide strategy with /24 blocks.
func DefaultConfig() Config {
	return Config{
		Strategy:     StrategySubdivide,
		PrefixLength: 24,
		FixedPrefix:  "10.20",
	}
}

// Allocator returns count address blocks inside parent, in index order.
type Allocator interface {
	Allocate(parent string, count int) ([]string, error)
}

// New returns the allocator selected by cfg.
func New(cfg Config) (Allocator, error) {
	def := DefaultConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.PrefixLength == 0 {
		cfg.PrefixLength = def.PrefixLength
	}
	if cfg.FixedPrefix == "" {
		cfg.FixedPrefix = def.FixedPrefix
	}

	switch cfg.Strategy {
	case StrategySubdivide:
		if cfg.PrefixLength < 1 || cfg.PrefixLength > 32 {
			return nil, fmt.Errorf("prefix length %d out of range", cfg.PrefixLength)
		}
		return &Subdivider{PrefixLength: cfg.PrefixLength}, nil
	case StrategyFixedOctet:
		octets, err := parseTwoOctets(cfg.FixedPrefix)
		if err != nil {
			return nil, err
		}
		return &FixedOctet{prefix: octets}, nil
	default:
		return nil, fmt.Errorf("unknown allocation strategy %q", cfg.Strategy)
	}
}

// Subdivider carves consecutive /PrefixLength blocks from the parent.
type Subdivider struct {
	PrefixLength int
}

// Allocate implements Allocator.
func (s *Subdivider) Allocate(parent string, count int) ([]string, error) {
	p, err := parseParent(parent, count)
	if err != nil {
		return nil, err
	}

	newBits := s.PrefixLength - p.Bits()
	if newBits < 0 {
		return nil, fmt.Errorf("address block %s is smaller than a /%d subdivision", parent, s.PrefixLength)
	}
	if newBits < 31 && count > 1<<newBits {
		return nil, fmt.Errorf("address block %s holds %d /%d subdivisions, %d requested",
			parent, 1<<newBits, s.PrefixLength, count)
	}

	base := addrToUint32(p.Addr())
	step := uint32(1) << (32 - s.PrefixLength)
	blocks := make([]string, count)
	for i := range blocks {
		addr := uint32ToAddr(base + uint32(i)*step)
		blocks[i] = netip.PrefixFrom(addr, s.PrefixLength).String()
	}

	if err := checkContained(p.String(), blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// FixedOctet places block i at <a>.<b>.<i>.0/24.
type FixedOctet struct {
	prefix [2]byte
}

// Allocate implements Allocator.
func (f *FixedOctet) Allocate(parent string, count int) ([]string, error) {
	p, err := parseParent(parent, count)
	if err != nil {
		return nil, err
	}

	blocks := make([]string, count)
	for i := range blocks {
		addr := netip.AddrFrom4([4]byte{f.prefix[0], f.prefix[1], byte(i), 0})
		blocks[i] = netip.PrefixFrom(addr, 24).String()
	}

	if err := checkContained(p.String(), blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func parseParent(parent string, count int) (netip.Prefix, error) {
	if count < 1 {
		return netip.Prefix{}, fmt.Errorf("subdivision count must be at least 1, got %d", count)
	}
	if count > MaxSubdivisions {
		return netip.Prefix{}, fmt.Errorf("subdivision count must be at most %d, got %d", MaxSubdivisions, count)
	}

	p, err := netip.ParsePrefix(parent)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid address block %q: %w", parent, err)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("address block %s is not IPv4", parent)
	}
	if p.Masked() != p {
		return netip.Prefix{}, fmt.Errorf("address block %s has host bits set, expected %s", parent, p.Masked())
	}
	return p, nil
}

// checkContained verifies every block lies inside parent: merging the blocks
// into the parent must yield the parent alone.
func checkContained(parent string, blocks []string) error {
	merged, err := cidrman.MergeCIDRs(append([]string{parent}, blocks...))
	if err != nil {
		return fmt.Errorf("failed to merge address blocks: %w", err)
	}
	if len(merged) != 1 || merged[0] != parent {
		return fmt.Errorf("subdivision blocks %v do not fit inside %s", blocks, parent)
	}
	return nil
}

func parseTwoOctets(s string) ([2]byte, error) {
	var out [2]byte
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return out, fmt.Errorf("fixed prefix %q must have two octets", s)
	}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return out, fmt.Errorf("fixed prefix %q: %w", s, err)
		}
		out[i] = byte(n)
	}
	return out, nil
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uint32ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
