package ledger

import "crypto/sha256"

// Network identifies the ledger deployment envelopes are bound to. Two
// networks never share a passphrase, so a transaction signed for one can
// never be replayed on another.
type Network struct {
	Passphrase string
}

// Well-known deployment passphrases.
const (
	PassphrasePublic = "Zaps Payment Network ; August 2025"
	PassphraseTest   = "Zaps Test Network ; August 2025"
)

// ID derives the 32-byte network identifier that signing payloads and
// contract identities commit to.
func (n Network) ID() [32]byte {
	return sha256.Sum256([]byte(n.Passphrase))
}
