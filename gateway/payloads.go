package gateway

import (
	"math/big"
	"net/url"
	"strings"

	"zapspay/ledger"
)

// PayURIScheme prefixes the canonical payment payload exchanged over QR
// codes and NFC taps.
const PayURIScheme = "zaps:pay"

// PayRequest is the decoded form of a QR/NFC payment payload.
type PayRequest struct {
	MerchantID string
	Asset      ledger.Asset
	Amount     *big.Int
	Memo       string
}

// BuildPayURI renders the canonical payment URI a wallet scans or taps.
func BuildPayURI(merchantID string, asset ledger.Asset, amount *big.Int, memo string) string {
	values := url.Values{}
	values.Set("merchant", merchantID)
	values.Set("asset", asset.String())
	values.Set("amount", amount.String())
	if memo != "" {
		values.Set("memo", memo)
	}
	return PayURIScheme + "?" + values.Encode()
}

// ParsePayURI validates and decodes a payment payload. Every failure is a
// ValidationError so callers surface it uniformly as malformed input.
func ParsePayURI(payload string) (*PayRequest, error) {
	payload = strings.TrimSpace(payload)
	rest, ok := strings.CutPrefix(payload, PayURIScheme+"?")
	if !ok {
		return nil, &ledger.ValidationError{Msg: "payload is not a " + PayURIScheme + " URI"}
	}
	values, err := url.ParseQuery(rest)
	if err != nil {
		return nil, &ledger.ValidationError{Msg: "payload query is malformed"}
	}
	merchant := strings.TrimSpace(values.Get("merchant"))
	if merchant == "" {
		return nil, &ledger.ValidationError{Msg: "payload is missing the merchant"}
	}
	asset, err := ledger.ParseAsset(values.Get("asset"))
	if err != nil {
		return nil, err
	}
	amount, err := ledger.ParseAmount(values.Get("amount"))
	if err != nil {
		return nil, err
	}
	memo := values.Get("memo")
	if len(memo) > ledger.MaxMemoBytes {
		return nil, &ledger.ValidationError{Msg: "memo exceeds 28 bytes"}
	}
	return &PayRequest{
		MerchantID: merchant,
		Asset:      asset,
		Amount:     amount,
		Memo:       memo,
	}, nil
}
