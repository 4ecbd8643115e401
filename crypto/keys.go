package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// Address represents a ledger account: the 32-byte ed25519 public key,
// rendered as a G... strkey.
type Address [32]byte

// ContractID identifies a deployed contract, rendered as a C... strkey.
type ContractID [32]byte

func (a Address) String() string {
	return encodeStrkey(versionAccount, a[:])
}

func (a Address) Bytes() []byte {
	return a[:]
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// Hint returns the trailing four bytes of the public key. Signatures carry
// the hint so verifiers can pick the matching key without trial decryption.
func (a Address) Hint() [4]byte {
	var h [4]byte
	copy(h[:], a[28:])
	return h
}

func ParseAddress(s string) (Address, error) {
	raw, err := decodeStrkey(versionAccount, s)
	if err != nil {
		return Address{}, err
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

func (c ContractID) String() string {
	return encodeStrkey(versionContract, c[:])
}

func (c ContractID) Bytes() []byte {
	return c[:]
}

func (c ContractID) IsZero() bool {
	return c == ContractID{}
}

func ParseContractID(s string) (ContractID, error) {
	raw, err := decodeStrkey(versionContract, s)
	if err != nil {
		return ContractID{}, err
	}
	var c ContractID
	copy(c[:], raw)
	return c, nil
}

// --- Key Management ---

// PrivateKey wraps an ed25519 signing key. The textual form is the S...
// strkey of the 32-byte seed.
type PrivateKey struct {
	key ed25519.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// ParseSeed decodes an S... strkey seed into a signing key.
func ParseSeed(s string) (*PrivateKey, error) {
	raw, err := decodeStrkey(versionSeed, s)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: ed25519.NewKeyFromSeed(raw)}, nil
}

// Seed returns the strkey encoding of the private seed.
func (k *PrivateKey) Seed() string {
	return encodeStrkey(versionSeed, k.key.Seed())
}

func (k *PrivateKey) Address() Address {
	var a Address
	copy(a[:], k.key.Public().(ed25519.PublicKey))
	return a
}

func (k *PrivateKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.key, message)
}

func (k *PrivateKey) Hint() [4]byte {
	return k.Address().Hint()
}

// Verify reports whether sig is a valid signature over message by the
// account's key.
func Verify(addr Address, message, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(addr[:]), message, sig)
}

var errNilKey = errors.New("crypto: nil private key")
