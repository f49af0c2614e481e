// Package lookup builds and queries the known-address set the search loop
// tests membership against. The set is immutable once built: Load is the
// single writer, after which any number of workers may call Contains
// concurrently with no locking.
package lookup

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

var (
	// ErrInvalidAddress reports a malformed entry in the input list
	// (strict mode only).
	ErrInvalidAddress = errors.New("invalid address")

	// ErrEmptySet reports that no valid addresses were loaded. A set that
	// can never match is rejected up front rather than feeding a loop
	// that gives false reassurance.
	ErrEmptySet = errors.New("no valid addresses in set")
)

// bloomFalsePositiveRate keeps prefilter misdirection rare enough that the
// exact map is consulted only a handful of times per billion lookups.
const bloomFalsePositiveRate = 0.000001

// Options configures Load.
type Options struct {
	// Lenient skips entries that fail address validation instead of
	// aborting. Skipped entries are counted, not retried: lenient mode is
	// skip-and-continue, never fail-fast.
	Lenient bool

	// Net selects the network used for validation (mainnet by default).
	Net *chaincfg.Params
}

// Set is an immutable collection of known addresses with O(1) average
// membership queries. A bloom filter screens out the overwhelming majority
// of misses before the exact map is touched.
type Set struct {
	filter    *bloom.BloomFilter
	addresses map[string]struct{}
	skipped   int
}

// Load validates, deduplicates, and indexes the supplied addresses.
// Validation requires each entry to decode as a mainnet address
// (base58check or bech32). In strict mode the first invalid entry aborts
// with ErrInvalidAddress; in lenient mode invalid entries are skipped and
// counted. Zero valid entries is ErrEmptySet in either mode.
func Load(addresses []string, opts Options) (*Set, error) {
	net := opts.Net
	if net == nil {
		net = &chaincfg.MainNetParams
	}

	valid := make(map[string]struct{}, len(addresses))
	skipped := 0
	for _, addr := range addresses {
		if err := validate(addr, net); err != nil {
			if !opts.Lenient {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
			}
			skipped++
			continue
		}
		valid[addr] = struct{}{}
	}

	if len(valid) == 0 {
		return nil, ErrEmptySet
	}

	filter := bloom.NewWithEstimates(uint(len(valid)), bloomFalsePositiveRate)
	for addr := range valid {
		filter.AddString(addr)
	}

	return &Set{
		filter:    filter,
		addresses: valid,
		skipped:   skipped,
	}, nil
}

func validate(addr string, net *chaincfg.Params) error {
	if addr == "" {
		return errors.New("empty entry")
	}
	decoded, err := btcutil.DecodeAddress(addr, net)
	if err != nil {
		return err
	}
	if !decoded.IsForNet(net) {
		return errors.New("wrong network")
	}
	return nil
}

// Contains reports whether addr is in the set. Safe for concurrent use;
// the set is never mutated after Load.
func (s *Set) Contains(addr string) bool {
	if !s.filter.TestString(addr) {
		return false
	}
	_, ok := s.addresses[addr]
	return ok
}

// Len returns the number of unique valid addresses.
func (s *Set) Len() int { return len(s.addresses) }

// Skipped returns how many entries lenient loading discarded.
func (s *Set) Skipped() int { return s.skipped }

// MemoryUsage returns approximate memory usage in bytes.
func (s *Set) MemoryUsage() int64 {
	var addrMem int64
	for addr := range s.addresses {
		addrMem += int64(len(addr) + 16) // string header overhead
	}
	return addrMem + int64(s.filter.Cap()/8)
}
