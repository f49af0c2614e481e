package keygen

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
)

// Known vectors for private key = 1. The corresponding public key is the
// secp256k1 generator point, so these addresses are widely published.
const (
	vectorP2PKHUncompressed = "1EHNa6Q4Jz2uvNExL497mE43ikXhwF6kZm"
	vectorP2PKHCompressed   = "1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH"
	vectorP2SH              = "3JvL6Ymt8MVWiCNHC7oWU6nLeHNJKLZGLN"
	vectorP2WPKH            = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	vectorWIF               = "KwDiBf89QgGbjEhKnhXJuH7LrciVrZi3qYjgd9M7rFU73sVHnoWn"
)

func privKeyFromScalar(t *testing.T, scalar byte) *btcec.PrivateKey {
	t.Helper()
	var buf [32]byte
	buf[31] = scalar
	priv, _ := btcec.PrivKeyFromBytes(buf[:])
	return priv
}

func TestKnownVectors(t *testing.T) {
	d := NewDeriver()
	kp, err := d.FromPrivateKey(privKeyFromScalar(t, 1))
	if err != nil {
		t.Fatalf("FromPrivateKey: %v", err)
	}

	want := map[AddressType]string{
		TypeP2PKH:           vectorP2PKHUncompressed,
		TypeP2PKHCompressed: vectorP2PKHCompressed,
		TypeP2SH:            vectorP2SH,
		TypeP2WPKH:          vectorP2WPKH,
	}
	if len(kp.Addresses) != len(want) {
		t.Fatalf("Expected %d addresses, got %d", len(want), len(kp.Addresses))
	}
	for _, derived := range kp.Addresses {
		if derived.Address != want[derived.Type] {
			t.Errorf("%s address mismatch:\n  got:      %s\n  expected: %s",
				derived.Type, derived.Address, want[derived.Type])
		}
	}

	if kp.WIF != vectorWIF {
		t.Errorf("WIF mismatch:\n  got:      %s\n  expected: %s", kp.WIF, vectorWIF)
	}
}

func TestDeterminism(t *testing.T) {
	d := NewDeriver()
	priv := privKeyFromScalar(t, 42)

	first, err := d.FromPrivateKey(priv)
	if err != nil {
		t.Fatalf("First derivation: %v", err)
	}
	second, err := d.FromPrivateKey(priv)
	if err != nil {
		t.Fatalf("Second derivation: %v", err)
	}

	for i := range first.Addresses {
		if first.Addresses[i] != second.Addresses[i] {
			t.Errorf("Derivation not deterministic at %s: %s vs %s",
				first.Addresses[i].Type, first.Addresses[i].Address, second.Addresses[i].Address)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	d := NewDeriver()
	for i := 0; i < 100; i++ {
		kp, err := d.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}

		for _, derived := range kp.Addresses {
			switch derived.Type {
			case TypeP2PKH, TypeP2PKHCompressed:
				payload, version, err := base58.CheckDecode(derived.Address)
				if err != nil {
					t.Fatalf("%s %s failed checksum round-trip: %v", derived.Type, derived.Address, err)
				}
				if version != chaincfg.MainNetParams.PubKeyHashAddrID {
					t.Errorf("%s has version byte %#x", derived.Address, version)
				}
				if len(payload) != 20 {
					t.Errorf("%s payload is %d bytes, expected 20", derived.Address, len(payload))
				}
			case TypeP2SH:
				payload, version, err := base58.CheckDecode(derived.Address)
				if err != nil {
					t.Fatalf("%s %s failed checksum round-trip: %v", derived.Type, derived.Address, err)
				}
				if version != chaincfg.MainNetParams.ScriptHashAddrID {
					t.Errorf("%s has version byte %#x", derived.Address, version)
				}
				if len(payload) != 20 {
					t.Errorf("%s payload is %d bytes, expected 20", derived.Address, len(payload))
				}
			case TypeP2WPKH:
				decoded, err := btcutil.DecodeAddress(derived.Address, &chaincfg.MainNetParams)
				if err != nil {
					t.Fatalf("%s %s failed decode round-trip: %v", derived.Type, derived.Address, err)
				}
				if decoded.EncodeAddress() != derived.Address {
					t.Errorf("Re-encoding %s yielded %s", derived.Address, decoded.EncodeAddress())
				}
			}
		}
	}
}

func TestDistinctness(t *testing.T) {
	const n = 10000

	d := NewDeriver(WithTypes(TypeP2PKHCompressed))
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		kp, err := d.Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		addr := kp.Address()
		if _, dup := seen[addr]; dup {
			t.Fatalf("Duplicate address after %d keys: %s", i, addr)
		}
		seen[addr] = struct{}{}
	}
}

// queueReader hands out predetermined 32-byte draws, then fails.
type queueReader struct {
	bufs [][]byte
}

func (q *queueReader) Read(p []byte) (int, error) {
	if len(q.bufs) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b := q.bufs[0]
	q.bufs = q.bufs[1:]
	return copy(p, b), nil
}

func TestScalarRejection(t *testing.T) {
	// First draw is zero, second is the group order (both invalid), third
	// is scalar 1; Generate must redraw past the first two.
	zero := make([]byte, 32)
	order := make([]byte, 32)
	btcec.S256().N.FillBytes(order)
	one := make([]byte, 32)
	one[31] = 1

	d := NewDeriver(
		WithTypes(TypeP2PKHCompressed),
		WithRand(&queueReader{bufs: [][]byte{zero, order, one}}),
	)

	kp, err := d.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if kp.Address() != vectorP2PKHCompressed {
		t.Errorf("Expected address for scalar 1 after redraws, got %s", kp.Address())
	}
	if !bytes.Equal(kp.PrivateKey.Serialize(), one) {
		t.Errorf("Expected private key 1, got %x", kp.PrivateKey.Serialize())
	}
}

func TestEntropyFailure(t *testing.T) {
	d := NewDeriver(WithRand(&queueReader{}))

	_, err := d.Generate()
	if err == nil {
		t.Fatal("Expected error from exhausted entropy source")
	}
	if !errors.Is(err, ErrEntropy) {
		t.Errorf("Expected ErrEntropy, got %v", err)
	}
}

func BenchmarkGenerate(b *testing.B) {
	d := NewDeriver()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.Generate(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGenerateCompressedOnly(b *testing.B) {
	d := NewDeriver(WithTypes(TypeP2PKHCompressed))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := d.Generate(); err != nil {
			b.Fatal(err)
		}
	}
}
