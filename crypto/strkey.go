package crypto

import (
	"encoding/base32"
	"errors"
	"fmt"
)

// Strkey version bytes. The top five bits select the leading base32 letter.
const (
	versionAccount  byte = 6 << 3  // 'G'
	versionSeed     byte = 18 << 3 // 'S'
	versionContract byte = 2 << 3  // 'C'
)

// encodedKeyLen is the length of every strkey string: one version byte, a
// 32-byte payload, and a two-byte checksum, base32-encoded without padding.
const encodedKeyLen = 56

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

var (
	ErrKeyLength   = errors.New("crypto: invalid key length")
	ErrKeyVersion  = errors.New("crypto: unexpected key version")
	ErrKeyChecksum = errors.New("crypto: key checksum mismatch")
)

func encodeStrkey(version byte, payload []byte) string {
	raw := make([]byte, 0, len(payload)+3)
	raw = append(raw, version)
	raw = append(raw, payload...)
	sum := checksum(raw)
	raw = append(raw, byte(sum), byte(sum>>8))
	return b32.EncodeToString(raw)
}

func decodeStrkey(version byte, s string) ([]byte, error) {
	if len(s) != encodedKeyLen {
		return nil, ErrKeyLength
	}
	raw, err := b32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: malformed key: %w", err)
	}
	if len(raw) != 35 {
		return nil, ErrKeyLength
	}
	if raw[0] != version {
		return nil, ErrKeyVersion
	}
	want := uint16(raw[33]) | uint16(raw[34])<<8
	if checksum(raw[:33]) != want {
		return nil, ErrKeyChecksum
	}
	out := make([]byte, 32)
	copy(out, raw[1:33])
	return out, nil
}

// checksum computes CRC16-XModem over data, the checksum the strkey format
// appends little-endian.
func checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
