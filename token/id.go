// Package token implements the flat 256-bit token identifier scheme.
//
// The id space is partitioned by its high bits into four disjoint regions:
//
//	brand      bit255=0, 0 < value < 2^160   (value is a 20-byte account address)
//	NFT        value in [2^254, 2^255)
//	brand FT   bit255=1, bits 254..95 = brand account, bits 63..0 = index
//	system FT  bit255=1, bits 254..95 = 0,             bits 63..0 = index
//
// Bits 94..64 of a fungible id are reserved and always zero. Values in
// [2^160, 2^254) and fungible ids with nonzero reserved bits belong to no
// region; constructors never produce them and Decode rejects them.
package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// Kind classifies an id into one of the four regions.
type Kind int

const (
	KindBrand Kind = iota
	KindNFT
	KindBrandFT
	KindSystemFT
)

// String returns the lowercase region name.
func (k Kind) String() string {
	switch k {
	case KindBrand:
		return "brand"
	case KindNFT:
		return "nft"
	case KindBrandFT:
		return "brand_ft"
	case KindSystemFT:
		return "system_ft"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrMalformed is returned when an id's bit pattern falls outside all four
// regions.
var ErrMalformed = errors.New("malformed token id")

const (
	// AddressLen is the account address length in bytes (160 bits).
	AddressLen = 20
	// brandShift positions the brand account in the high 160 of the low 255 bits.
	brandShift = 95
)

// ID is a 256-bit token identifier, big-endian.
type ID [32]byte

// Decoded is the tagged-variant view of an id.
type Decoded struct {
	Kind    Kind
	Account string   // brand account hex; set for KindBrand and KindBrandFT
	Serial  *big.Int // set for KindNFT, in [0, 2^254)
	Index   uint64   // set for KindBrandFT and KindSystemFT
}

// Brand returns the brand id for the given 20-byte account address (hex).
// The zero account is rejected: it never corresponds to an on-registry brand.
func Brand(account string) (ID, error) {
	raw, err := decodeAccount(account)
	if err != nil {
		return ID{}, err
	}
	if isZero(raw) {
		return ID{}, errors.New("zero account cannot be a brand")
	}
	var id ID
	copy(id[32-AddressLen:], raw)
	return id, nil
}

// NFT returns the generic non-fungible id for serial, which must be in
// [0, 2^254).
func NFT(serial *big.Int) (ID, error) {
	if serial == nil || serial.Sign() < 0 || serial.BitLen() > 254 {
		return ID{}, errors.New("nft serial must be in [0, 2^254)")
	}
	v := new(big.Int).Set(serial)
	v.SetBit(v, 254, 1)
	return fromBig(v), nil
}

// BrandFT returns the fungible id for the given brand account and per-brand
// index. Index 0 is legal; the zero account is not (use SystemFT instead).
func BrandFT(account string, index uint64) (ID, error) {
	raw, err := decodeAccount(account)
	if err != nil {
		return ID{}, err
	}
	if isZero(raw) {
		return ID{}, errors.New("zero account cannot scope a brand token")
	}
	v := new(big.Int).SetBytes(raw)
	v.Lsh(v, brandShift)
	v.SetBit(v, 255, 1)
	v.Or(v, new(big.Int).SetUint64(index))
	return fromBig(v), nil
}

// SystemFT returns the fungible id for a platform-issued token index.
func SystemFT(index uint64) ID {
	var id ID
	id[0] = 0x80
	v := index
	for i := 31; i >= 24; i-- {
		id[i] = byte(v)
		v >>= 8
	}
	return id
}

// IsBrand reports whether id falls in the brand region. Total over all ids.
func (id ID) IsBrand() bool {
	for _, b := range id[:32-AddressLen] {
		if b != 0 {
			return false
		}
	}
	return !isZero(id[32-AddressLen:])
}

// IsNFT reports whether id falls in the generic non-fungible region
// [2^254, 2^255). Total over all ids; false for brand ids.
func (id ID) IsNFT() bool {
	return id[0]&0xc0 == 0x40
}

// IsFungible reports whether id carries the fungible flag bit. Total over all
// ids; true for both brand-scoped and system tokens.
func (id ID) IsFungible() bool {
	return id[0]&0x80 != 0
}

// Decode returns the tagged-variant view of id, or ErrMalformed if the bit
// pattern lies outside all four regions.
func (id ID) Decode() (Decoded, error) {
	v := id.Big()
	if id.IsFungible() {
		v.SetBit(v, 255, 0)
		index := new(big.Int).And(v, maskIndex)
		brand := new(big.Int).Rsh(v, brandShift)
		// Reserved bits 94..64 must be clear.
		reserved := new(big.Int).Rsh(v, 64)
		reserved.And(reserved, maskReserved)
		if reserved.Sign() != 0 {
			return Decoded{}, fmt.Errorf("%w: reserved bits set", ErrMalformed)
		}
		if brand.Sign() == 0 {
			return Decoded{Kind: KindSystemFT, Index: index.Uint64()}, nil
		}
		return Decoded{
			Kind:    KindBrandFT,
			Account: accountHex(brand),
			Index:   index.Uint64(),
		}, nil
	}
	if id.IsNFT() {
		serial := v.SetBit(v, 254, 0)
		return Decoded{Kind: KindNFT, Serial: serial}, nil
	}
	if id.IsBrand() {
		return Decoded{Kind: KindBrand, Account: accountHex(v)}, nil
	}
	return Decoded{}, fmt.Errorf("%w: value outside every region", ErrMalformed)
}

// BrandAccount returns the brand account (hex) an id belongs to: the id itself
// for a brand id, the scoping brand for a brand FT. ok is false otherwise.
func (id ID) BrandAccount() (account string, ok bool) {
	d, err := id.Decode()
	if err != nil {
		return "", false
	}
	switch d.Kind {
	case KindBrand, KindBrandFT:
		return d.Account, true
	default:
		return "", false
	}
}

// Big returns the id as a fresh big.Int.
func (id ID) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Hex returns the 64-char lowercase hex encoding.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id ID) String() string { return id.Hex() }

// Parse decodes a 64-char hex id.
func Parse(s string) (ID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid token id hex: %w", err)
	}
	if len(raw) != 32 {
		return ID{}, fmt.Errorf("token id must be 32 bytes, got %d", len(raw))
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// MarshalText implements encoding.TextMarshaler (hex).
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

var (
	maskIndex    = new(big.Int).SetUint64(^uint64(0))
	maskReserved = big.NewInt((1 << 31) - 1) // bits 94..64 after a 64-bit shift
)

func fromBig(v *big.Int) ID {
	var id ID
	v.FillBytes(id[:])
	return id
}

func decodeAccount(account string) ([]byte, error) {
	raw, err := hex.DecodeString(account)
	if err != nil {
		return nil, fmt.Errorf("invalid account hex: %w", err)
	}
	if len(raw) != AddressLen {
		return nil, fmt.Errorf("account must be %d bytes, got %d", AddressLen, len(raw))
	}
	return raw, nil
}

func accountHex(v *big.Int) string {
	raw := make([]byte, AddressLen)
	v.FillBytes(raw)
	return hex.EncodeToString(raw)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
