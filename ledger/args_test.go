package ledger

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"zapspay/crypto"
)

func TestEncodeArgsOrderAndKinds(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.Address()
	contract := Asset{Code: NativeAssetCode}.Contract(Network{Passphrase: PassphraseTest}.ID())

	blobs, err := EncodeArgs(true, uint64(42), big.NewInt(1000), []byte{0xde, 0xad}, "hello", addr, contract)
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}
	if len(blobs) != 7 {
		t.Fatalf("got %d blobs, want 7", len(blobs))
	}
	for i, blob := range blobs {
		if len(blob) == 0 {
			t.Fatalf("blob %d is empty", i)
		}
		for j := i + 1; j < len(blobs); j++ {
			if bytes.Equal(blob, blobs[j]) {
				t.Fatalf("blobs %d and %d collide", i, j)
			}
		}
	}

	again, err := EncodeArgs(true, uint64(42), big.NewInt(1000), []byte{0xde, 0xad}, "hello", addr, contract)
	if err != nil {
		t.Fatalf("EncodeArgs repeat: %v", err)
	}
	for i := range blobs {
		if !bytes.Equal(blobs[i], again[i]) {
			t.Fatalf("encoding is not deterministic at index %d", i)
		}
	}
}

func TestEncodeArgsEmpty(t *testing.T) {
	blobs, err := EncodeArgs()
	if err != nil {
		t.Fatalf("EncodeArgs(): %v", err)
	}
	if blobs != nil {
		t.Fatalf("EncodeArgs() = %v, want nil", blobs)
	}
}

func TestEncodeArgRejectsUnsupported(t *testing.T) {
	cases := []struct {
		name string
		arg  any
	}{
		{name: "int", arg: 7},
		{name: "float", arg: 1.5},
		{name: "struct", arg: struct{ X int }{X: 1}},
		{name: "nil bigint", arg: (*big.Int)(nil)},
		{name: "negative bigint", arg: big.NewInt(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeArg(tc.arg)
			if err == nil {
				t.Fatal("expected error")
			}
			var encErr *EncodingError
			if !errors.As(err, &encErr) {
				t.Fatalf("error %T, want *EncodingError", err)
			}
		})
	}
}

func TestEncodeArgsReportsIndex(t *testing.T) {
	_, err := EncodeArgs(uint64(1), 3.14)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !bytes.Contains([]byte(got), []byte("argument 1")) {
		t.Fatalf("error %q does not name the failing index", got)
	}
}
