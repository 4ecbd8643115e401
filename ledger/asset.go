package ledger

import (
	"crypto/sha256"
	"strings"

	"zapspay/crypto"
)

// NativeAssetCode is the literal clients send for the network's native
// asset.
const NativeAssetCode = "XLM"

const maxAssetCodeLen = 12

// Asset identifies the value a payment moves: the native asset, or an
// issued CODE:ISSUER pair.
type Asset struct {
	Code   string
	Issuer string // empty for the native asset
}

// ParseAsset accepts "XLM" or "CODE:ISSUER" where ISSUER is a G... account
// address and CODE is 1-12 uppercase letters or digits.
func ParseAsset(s string) (Asset, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == NativeAssetCode {
		return Asset{Code: NativeAssetCode}, nil
	}
	code, issuer, found := strings.Cut(trimmed, ":")
	if !found {
		return Asset{}, validationf("invalid asset format, use XLM or CODE:ISSUER")
	}
	if !validAssetCode(code) {
		return Asset{}, validationf("asset code must be 1-12 uppercase letters or digits")
	}
	if _, err := crypto.ParseAddress(issuer); err != nil {
		return Asset{}, validationf("asset issuer must be a G... account address")
	}
	return Asset{Code: code, Issuer: issuer}, nil
}

func (a Asset) Native() bool {
	return a.Issuer == ""
}

func (a Asset) String() string {
	if a.Native() {
		return a.Code
	}
	return a.Code + ":" + a.Issuer
}

// Contract resolves the asset to its deployed contract identity on the
// given network. The derivation is deterministic, so the same asset maps to
// different identities on different networks.
func (a Asset) Contract(networkID [32]byte) crypto.ContractID {
	h := sha256.New()
	h.Write(networkID[:])
	h.Write([]byte("asset:"))
	h.Write([]byte(a.String()))
	var id crypto.ContractID
	copy(id[:], h.Sum(nil))
	return id
}

func validAssetCode(code string) bool {
	if len(code) == 0 || len(code) > maxAssetCodeLen {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
