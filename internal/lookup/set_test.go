package lookup

import (
	"errors"
	"testing"
)

const satoshiAddress = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

func TestSetContains(t *testing.T) {
	set, err := Load([]string{satoshiAddress}, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !set.Contains(satoshiAddress) {
		t.Errorf("Expected to find %s", satoshiAddress)
	}
	if set.Contains("not-an-address") {
		t.Error("Did not expect to find a non-address string")
	}
	if set.Contains("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2") {
		t.Error("Did not expect to find an address that was never added")
	}
}

func TestSetMixedForms(t *testing.T) {
	// One P2PKH, one P2SH, one bech32 P2WPKH.
	addresses := []string{
		"1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA",
		"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy",
		"bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
	}

	set, err := Load(addresses, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Len() != len(addresses) {
		t.Errorf("Expected %d addresses, got %d", len(addresses), set.Len())
	}
	for _, addr := range addresses {
		if !set.Contains(addr) {
			t.Errorf("Expected to find %s", addr)
		}
	}
}

func TestSetDuplicatesCollapse(t *testing.T) {
	set, err := Load([]string{satoshiAddress, satoshiAddress, satoshiAddress}, Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if set.Len() != 1 {
		t.Errorf("Expected duplicates to collapse to 1 entry, got %d", set.Len())
	}
}

func TestEmptySetRejected(t *testing.T) {
	_, err := Load(nil, Options{})
	if !errors.Is(err, ErrEmptySet) {
		t.Errorf("Expected ErrEmptySet, got %v", err)
	}
}

func TestMalformedEntryStrict(t *testing.T) {
	_, err := Load([]string{"garbage"}, Options{})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}

	// A single bad entry aborts even when valid ones are present.
	_, err = Load([]string{satoshiAddress, "garbage"}, Options{})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress with mixed input, got %v", err)
	}
}

func TestMalformedEntryLenient(t *testing.T) {
	// All entries invalid: skipping leaves zero effective entries, which
	// is rejected at load time rather than deferred to the run loop.
	_, err := Load([]string{"garbage"}, Options{Lenient: true})
	if !errors.Is(err, ErrEmptySet) {
		t.Errorf("Expected ErrEmptySet for all-invalid lenient load, got %v", err)
	}

	set, err := Load([]string{satoshiAddress, "garbage", ""}, Options{Lenient: true})
	if err != nil {
		t.Fatalf("Lenient load: %v", err)
	}
	if set.Len() != 1 {
		t.Errorf("Expected 1 valid entry, got %d", set.Len())
	}
	if set.Skipped() != 2 {
		t.Errorf("Expected 2 skipped entries, got %d", set.Skipped())
	}
	if !set.Contains(satoshiAddress) {
		t.Error("Expected the valid entry to remain findable")
	}
}

func TestChecksumErrorRejected(t *testing.T) {
	// Valid base58, broken checksum (last character flipped).
	corrupted := satoshiAddress[:len(satoshiAddress)-1] + "b"
	_, err := Load([]string{corrupted}, Options{})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected checksum failure to be rejected, got %v", err)
	}
}

func BenchmarkSetContains(b *testing.B) {
	addresses := make([]string, 0, 1000)
	addresses = append(addresses, satoshiAddress)

	set, err := Load(addresses, Options{})
	if err != nil {
		b.Fatal(err)
	}

	b.Run("hit", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			set.Contains(satoshiAddress)
		}
	})
	b.Run("miss", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			set.Contains("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
		}
	})
}
