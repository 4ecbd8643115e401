package crypto

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.Address()
	encoded := addr.String()
	if len(encoded) != encodedKeyLen {
		t.Fatalf("encoded address length = %d, want %d", len(encoded), encodedKeyLen)
	}
	if !strings.HasPrefix(encoded, "G") {
		t.Fatalf("address %q does not start with G", encoded)
	}
	decoded, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %v != %v", decoded, addr)
	}
}

func TestSeedRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	seed := key.Seed()
	if !strings.HasPrefix(seed, "S") {
		t.Fatalf("seed %q does not start with S", seed)
	}
	restored, err := ParseSeed(seed)
	if err != nil {
		t.Fatalf("parse seed: %v", err)
	}
	if restored.Address() != key.Address() {
		t.Fatalf("restored key derives %v, want %v", restored.Address(), key.Address())
	}
}

func TestParseAddressRejectsCorruption(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	encoded := key.Address().String()

	// Flip one character in the payload region.
	corrupted := []byte(encoded)
	if corrupted[10] == 'A' {
		corrupted[10] = 'B'
	} else {
		corrupted[10] = 'A'
	}
	if _, err := ParseAddress(string(corrupted)); err == nil {
		t.Fatal("expected corrupted address to fail")
	}

	if _, err := ParseAddress(encoded[:40]); !errors.Is(err, ErrKeyLength) {
		t.Fatalf("truncated address: got %v, want ErrKeyLength", err)
	}

	// A valid seed is not a valid address.
	if _, err := ParseAddress(key.Seed()); !errors.Is(err, ErrKeyVersion) {
		t.Fatalf("seed as address: got %v, want ErrKeyVersion", err)
	}
}

func TestContractIDRoundTrip(t *testing.T) {
	var id ContractID
	for i := range id {
		id[i] = byte(i * 7)
	}
	encoded := id.String()
	if !strings.HasPrefix(encoded, "C") {
		t.Fatalf("contract id %q does not start with C", encoded)
	}
	decoded, err := ParseContractID(encoded)
	if err != nil {
		t.Fatalf("parse contract id: %v", err)
	}
	if decoded != id {
		t.Fatalf("round trip mismatch: %v != %v", decoded, id)
	}
}

func TestSignVerify(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := []byte("sponsored transaction payload")
	sig := key.Sign(msg)
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}
	if !Verify(key.Address(), msg, sig) {
		t.Fatal("signature did not verify")
	}
	if Verify(key.Address(), []byte("other payload"), sig) {
		t.Fatal("signature verified against wrong payload")
	}
	other, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if Verify(other.Address(), msg, sig) {
		t.Fatal("signature verified against wrong key")
	}
}

func TestHintMatchesAddressTail(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.Address()
	hint := key.Hint()
	for i := 0; i < 4; i++ {
		if hint[i] != addr[28+i] {
			t.Fatalf("hint byte %d = %x, want %x", i, hint[i], addr[28+i])
		}
	}
}

func TestSeedFileRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "fee-payer.seed")
	if err := SaveSeedFile(path, key); err != nil {
		t.Fatalf("save seed file: %v", err)
	}
	loaded, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load seed file: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("loaded key derives %v, want %v", loaded.Address(), key.Address())
	}
}
