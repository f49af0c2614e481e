// Package keygen derives Bitcoin key pairs and addresses from an entropy
// source. Derivation is pure: the same private scalar always yields the
// same addresses, and a Deriver holds no mutable state, so a single
// instance is safe to share across workers.
package keygen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ErrEntropy wraps failures of the randomness source. Entropy failures are
// fatal: retrying or falling back to a weaker generator would silently
// produce weak keys, so callers must abort the run instead.
var ErrEntropy = errors.New("entropy source failure")

// AddressType identifies one of the derived address encodings.
type AddressType string

const (
	// TypeP2PKH is a legacy address from the uncompressed public key.
	TypeP2PKH AddressType = "p2pkh"
	// TypeP2PKHCompressed is a legacy address from the compressed public key.
	TypeP2PKHCompressed AddressType = "p2pkh-compressed"
	// TypeP2SH is a P2SH-wrapped witness program (addresses starting with 3).
	TypeP2SH AddressType = "p2sh-p2wpkh"
	// TypeP2WPKH is a native SegWit bech32 address (bc1q...).
	TypeP2WPKH AddressType = "p2wpkh"
	// TypeP2TR is a taproot address (bc1p...), key-path spend only.
	TypeP2TR AddressType = "p2tr"
)

// AllTypes lists the default address forms for raw random keys, in
// derivation order.
var AllTypes = []AddressType{TypeP2PKH, TypeP2PKHCompressed, TypeP2SH, TypeP2WPKH}

// DerivedAddress is one encoded address produced from a key pair.
type DerivedAddress struct {
	Type    AddressType
	Address string
}

// KeyPair carries a freshly generated private key together with every
// address form derived from it. Mnemonic is set only by the mnemonic
// source.
type KeyPair struct {
	PrivateKey *btcec.PrivateKey
	WIF        string
	Addresses  []DerivedAddress
	Mnemonic   string
}

// Address returns the primary (first derived) address.
func (k *KeyPair) Address() string {
	if len(k.Addresses) == 0 {
		return ""
	}
	return k.Addresses[0].Address
}

// Deriver generates key pairs from raw entropy. The zero value is not
// usable; construct with NewDeriver.
type Deriver struct {
	net   *chaincfg.Params
	types []AddressType
	rand  io.Reader
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithTypes restricts which address forms Generate derives.
func WithTypes(types ...AddressType) Option {
	return func(d *Deriver) { d.types = types }
}

// WithRand replaces the entropy source. Intended for deterministic tests;
// production runs must use the default crypto/rand reader.
func WithRand(r io.Reader) Option {
	return func(d *Deriver) { d.rand = r }
}

// WithNet selects the network parameters (mainnet by default).
func WithNet(net *chaincfg.Params) Option {
	return func(d *Deriver) { d.net = net }
}

// NewDeriver returns a Deriver for mainnet deriving all address forms,
// reading entropy from crypto/rand.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		net:   &chaincfg.MainNetParams,
		types: AllTypes,
		rand:  rand.Reader,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Generate draws a fresh private scalar and derives the configured address
// forms. Scalars that are zero or not below the secp256k1 group order are
// rejected and redrawn.
func (d *Deriver) Generate() (*KeyPair, error) {
	var buf [32]byte
	k := new(big.Int)
	for {
		if _, err := io.ReadFull(d.rand, buf[:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
		}
		k.SetBytes(buf[:])
		if k.Sign() != 0 && k.Cmp(btcec.S256().N) < 0 {
			break
		}
	}
	priv, _ := btcec.PrivKeyFromBytes(buf[:])
	return d.FromPrivateKey(priv)
}

// FromPrivateKey derives the configured address forms for an existing key.
func (d *Deriver) FromPrivateKey(priv *btcec.PrivateKey) (*KeyPair, error) {
	pub := priv.PubKey()
	compressed := pub.SerializeCompressed()

	addrs := make([]DerivedAddress, 0, len(d.types))
	for _, typ := range d.types {
		var addr string
		var err error
		switch typ {
		case TypeP2PKH:
			addr, err = d.p2pkh(pub.SerializeUncompressed())
		case TypeP2PKHCompressed:
			addr, err = d.p2pkh(compressed)
		case TypeP2SH:
			addr, err = d.p2shP2WPKH(compressed)
		case TypeP2WPKH:
			addr, err = d.p2wpkh(compressed)
		case TypeP2TR:
			addr, err = d.p2tr(pub)
		default:
			err = fmt.Errorf("unknown address type %q", typ)
		}
		if err != nil {
			return nil, fmt.Errorf("deriving %s address: %w", typ, err)
		}
		addrs = append(addrs, DerivedAddress{Type: typ, Address: addr})
	}

	wif, err := btcutil.NewWIF(priv, d.net, true)
	if err != nil {
		return nil, fmt.Errorf("encoding WIF: %w", err)
	}

	return &KeyPair{
		PrivateKey: priv,
		WIF:        wif.String(),
		Addresses:  addrs,
	}, nil
}

// p2pkh applies the legacy pipeline: Hash160 of the serialized public key,
// version byte, double-SHA256 checksum, base58.
func (d *Deriver) p2pkh(pubKeyBytes []byte) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKeyBytes), d.net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// p2shP2WPKH wraps the P2WPKH witness program in a P2SH script hash.
func (d *Deriver) p2shP2WPKH(pubKeyBytes []byte) (string, error) {
	pubKeyHash := btcutil.Hash160(pubKeyBytes)
	witnessProgram := append([]byte{0x00, 0x14}, pubKeyHash...)
	addr, err := btcutil.NewAddressScriptHashFromHash(btcutil.Hash160(witnessProgram), d.net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (d *Deriver) p2wpkh(pubKeyBytes []byte) (string, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKeyBytes), d.net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// p2tr tweaks the internal key per BIP341 (no script path) and encodes
// the x-only output key as bech32m.
func (d *Deriver) p2tr(pub *btcec.PublicKey) (string, error) {
	taprootKey := txscript.ComputeTaprootKeyNoScript(pub)
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(taprootKey), d.net)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
