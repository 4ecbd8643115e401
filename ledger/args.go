package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"zapspay/crypto"
)

// Argument kind tags for the canonical invocation encoding. The contract
// host decodes blobs by tag, so tags are part of the wire format and never
// reused.
const (
	argBool uint8 = iota + 1
	argUint
	argBigInt
	argBytes
	argString
	argAddress
	argContract
)

type wireArg struct {
	Kind uint8
	Body []byte
}

// EncodeArg serializes one invocation argument into its canonical blob.
// Supported kinds: bool, uint64, *big.Int (non-negative), []byte, string,
// crypto.Address, crypto.ContractID.
func EncodeArg(v any) ([]byte, error) {
	var (
		kind uint8
		body []byte
		err  error
	)
	switch x := v.(type) {
	case bool:
		kind = argBool
		body, err = rlp.EncodeToBytes(x)
	case uint64:
		kind = argUint
		body, err = rlp.EncodeToBytes(x)
	case *big.Int:
		if x == nil {
			return nil, encodingf("nil big.Int argument")
		}
		if x.Sign() < 0 {
			return nil, encodingf("negative big.Int argument")
		}
		kind = argBigInt
		body, err = rlp.EncodeToBytes(x)
	case []byte:
		kind = argBytes
		body, err = rlp.EncodeToBytes(x)
	case string:
		kind = argString
		body, err = rlp.EncodeToBytes(x)
	case crypto.Address:
		kind = argAddress
		body, err = rlp.EncodeToBytes(x.Bytes())
	case crypto.ContractID:
		kind = argContract
		body, err = rlp.EncodeToBytes(x.Bytes())
	default:
		return nil, encodingf("unsupported argument type %T", v)
	}
	if err != nil {
		return nil, encodingf("encode argument: %v", err)
	}
	out, err := rlp.EncodeToBytes(wireArg{Kind: kind, Body: body})
	if err != nil {
		return nil, encodingf("encode argument: %v", err)
	}
	return out, nil
}

// EncodeArgs serializes an argument list in order.
func EncodeArgs(args ...any) ([][]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(args))
	for i, arg := range args {
		blob, err := EncodeArg(arg)
		if err != nil {
			return nil, encodingf("argument %d: %v", i, err)
		}
		out = append(out, blob)
	}
	return out, nil
}
