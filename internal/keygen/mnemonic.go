package keygen

import (
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// Source produces key pairs for the search loop. Implementations must be
// safe for concurrent use by multiple workers.
type Source interface {
	Generate() (*KeyPair, error)
}

// purposeForType maps each derivable address form to its BIP43 purpose.
// Each form is derived at the path real wallets fund it at, not off a
// shared key.
var purposeForType = map[AddressType]uint32{
	TypeP2PKHCompressed: 44,
	TypeP2SH:            49,
	TypeP2WPKH:          84,
	TypeP2TR:            86,
}

// MnemonicTypes lists the address forms the mnemonic source derives by
// default, one BIP43 purpose each.
var MnemonicTypes = []AddressType{TypeP2PKHCompressed, TypeP2SH, TypeP2WPKH, TypeP2TR}

// MnemonicSource derives key pairs from fresh BIP39 mnemonics. For every
// mnemonic it derives m/purpose'/0'/0'/0/i per configured address form
// (purposes 44, 49, 84, 86) for i below AddressIndexes, then draws the
// next mnemonic. The mnemonic that produced a key rides along on the
// KeyPair so a match can be restored in any wallet.
//
// Batches are derived outside the buffer lock, so workers only contend
// on a pop from the ready queue.
type MnemonicSource struct {
	net            *chaincfg.Params
	derivers       map[AddressType]*Deriver
	types          []AddressType
	entropyBits    int
	addressIndexes uint32

	mu     sync.Mutex
	buffer []*KeyPair
}

// MnemonicConfig configures a MnemonicSource.
type MnemonicConfig struct {
	// EntropyBits must be 128 (12 words) or 256 (24 words).
	EntropyBits int
	// AddressIndexes is how many external-chain children to derive per
	// mnemonic and purpose (indexes 0..n-1).
	AddressIndexes int
	// Types restricts the derived address forms; nil means MnemonicTypes.
	// Only forms with a BIP43 purpose are allowed, so TypeP2PKH
	// (uncompressed) is rejected here.
	Types []AddressType
	Net   *chaincfg.Params
}

// NewMnemonicSource validates cfg and returns a ready source.
func NewMnemonicSource(cfg MnemonicConfig) (*MnemonicSource, error) {
	if cfg.EntropyBits != 128 && cfg.EntropyBits != 256 {
		return nil, fmt.Errorf("entropy bits must be 128 or 256, got %d", cfg.EntropyBits)
	}
	if cfg.AddressIndexes < 1 {
		return nil, fmt.Errorf("address indexes must be at least 1, got %d", cfg.AddressIndexes)
	}
	net := cfg.Net
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	types := cfg.Types
	if types == nil {
		types = MnemonicTypes
	}
	derivers := make(map[AddressType]*Deriver, len(types))
	for _, typ := range types {
		if _, ok := purposeForType[typ]; !ok {
			return nil, fmt.Errorf("address type %q has no derivation purpose", typ)
		}
		derivers[typ] = NewDeriver(WithNet(net), WithTypes(typ))
	}
	return &MnemonicSource{
		net:            net,
		derivers:       derivers,
		types:          types,
		entropyBits:    cfg.EntropyBits,
		addressIndexes: uint32(cfg.AddressIndexes),
	}, nil
}

// Generate returns the next derived key pair, deriving a fresh mnemonic's
// batch when the ready queue is empty.
func (s *MnemonicSource) Generate() (*KeyPair, error) {
	s.mu.Lock()
	if len(s.buffer) > 0 {
		kp := s.buffer[0]
		s.buffer = s.buffer[1:]
		s.mu.Unlock()
		return kp, nil
	}
	s.mu.Unlock()

	pairs, err := s.deriveBatch()
	if err != nil {
		return nil, err
	}
	kp := pairs[0]
	if len(pairs) > 1 {
		s.mu.Lock()
		s.buffer = append(s.buffer, pairs[1:]...)
		s.mu.Unlock()
	}
	return kp, nil
}

// deriveBatch draws one mnemonic and derives every configured form at
// every index. Holds no locks; concurrent callers each work on their own
// mnemonic.
func (s *MnemonicSource) deriveBatch() ([]*KeyPair, error) {
	entropy, err := bip39.NewEntropy(s.entropyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("creating mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")

	masterKey, err := hdkeychain.NewMaster(seed, s.net)
	if err != nil {
		return nil, fmt.Errorf("creating master key: %w", err)
	}

	// Cache the hardened part of each path (m/purpose'/0'/0'/0); only the
	// cheap non-hardened child derivation runs per index.
	changeKeys := make(map[AddressType]*hdkeychain.ExtendedKey, len(s.types))
	for _, typ := range s.types {
		changeKey, err := deriveChangeKey(masterKey, purposeForType[typ])
		if err != nil {
			return nil, fmt.Errorf("deriving change key for purpose %d: %w", purposeForType[typ], err)
		}
		changeKeys[typ] = changeKey
	}

	pairs := make([]*KeyPair, 0, int(s.addressIndexes)*len(s.types))
	for idx := uint32(0); idx < s.addressIndexes; idx++ {
		for _, typ := range s.types {
			childKey, err := changeKeys[typ].Derive(idx)
			if err != nil {
				return nil, fmt.Errorf("deriving %s child %d: %w", typ, idx, err)
			}
			priv, err := childKey.ECPrivKey()
			if err != nil {
				return nil, fmt.Errorf("extracting %s private key at index %d: %w", typ, idx, err)
			}
			kp, err := s.derivers[typ].FromPrivateKey(priv)
			if err != nil {
				return nil, err
			}
			kp.Mnemonic = mnemonic
			pairs = append(pairs, kp)
		}
	}
	return pairs, nil
}

func deriveChangeKey(masterKey *hdkeychain.ExtendedKey, purpose uint32) (*hdkeychain.ExtendedKey, error) {
	purposeKey, err := masterKey.Derive(hdkeychain.HardenedKeyStart + purpose)
	if err != nil {
		return nil, fmt.Errorf("deriving purpose key: %w", err)
	}
	coinType, err := purposeKey.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("deriving coin type key: %w", err)
	}
	account, err := coinType.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("deriving account key: %w", err)
	}
	change, err := account.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("deriving change key: %w", err)
	}
	return change, nil
}
