package handshake

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Crypto labels used to derive the packet-protection AEAD key, IV and the
// paired header-protection key from a TLS 1.3 traffic secret (RFC 9001 §5.1).
const (
	quicKeyLabel = "quic key"
	quicIVLabel  = "quic iv"
	quicHPLabel  = "quic hp"
)

// AEAD seals and opens the payload of a single packet-protection epoch.
type AEAD interface {
	Seal(dst, plaintext, nonce, additionalData []byte) []byte
	Open(dst, ciphertext, nonce, additionalData []byte) ([]byte, error)
	Overhead() int
}

// HeaderProtector applies and removes QUIC header protection (RFC 9001 §5.4)
// for one packet-protection epoch.
type HeaderProtector interface {
	// Mask derives the 5-byte protection mask from the sample taken at the
	// offset the header protection algorithm specifies.
	Mask(sample []byte) [5]byte
}

type aeadAndHeaderCipher struct {
	aead cipher.AEAD
	iv   []byte
}

func (a *aeadAndHeaderCipher) Seal(dst, plaintext, nonce, additionalData []byte) []byte {
	return a.aead.Seal(dst, xorNonce(a.iv, nonce), plaintext, additionalData)
}

func (a *aeadAndHeaderCipher) Open(dst, ciphertext, nonce, additionalData []byte) ([]byte, error) {
	return a.aead.Open(dst, xorNonce(a.iv, nonce), ciphertext, additionalData)
}

func (a *aeadAndHeaderCipher) Overhead() int { return a.aead.Overhead() }

// xorNonce XORs the packet number into the derived static IV, the way
// RFC 9001 §5.3 constructs the AEAD nonce for every packet.
func xorNonce(iv, packetNumberBytes []byte) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	off := len(nonce) - len(packetNumberBytes)
	for i, b := range packetNumberBytes {
		nonce[off+i] ^= b
	}
	return nonce
}

type aesHeaderProtector struct {
	block cipher.Block
}

func (p *aesHeaderProtector) Mask(sample []byte) [5]byte {
	var buf [16]byte
	p.block.Encrypt(buf[:], sample)
	var mask [5]byte
	copy(mask[:], buf[:5])
	return mask
}

// ApplyHeaderProtection XORs hp's mask (sampled from the ciphertext
// immediately after the packet number field, per RFC 9001 §5.4.2) into the
// first-byte protected bits and the packet number bytes, in place. firstByteMask
// selects which low bits of the first byte are protected: 0x0f for a long
// header, 0x1f for a short header.
func ApplyHeaderProtection(hp HeaderProtector, header []byte, pnOffset, pnLen int, firstByteMask byte) {
	sample := header[pnOffset+4 : pnOffset+4+16]
	mask := hp.Mask(sample)
	header[0] ^= mask[0] & firstByteMask
	for i := 0; i < pnLen; i++ {
		header[pnOffset+i] ^= mask[1+i]
	}
}

// RemoveHeaderProtection undoes ApplyHeaderProtection. It first recovers
// the packet number length from the (now-unprotected) first byte's low 2
// bits, then unmasks that many packet number bytes, returning the
// recovered length so the caller can read the decoded truncated packet
// number from header[pnOffset:pnOffset+pnLen].
func RemoveHeaderProtection(hp HeaderProtector, header []byte, pnOffset int, firstByteMask byte) int {
	sample := header[pnOffset+4 : pnOffset+4+16]
	mask := hp.Mask(sample)
	header[0] ^= mask[0] & firstByteMask
	pnLen := int(header[0]&0x03) + 1
	for i := 0; i < pnLen; i++ {
		header[pnOffset+i] ^= mask[1+i]
	}
	return pnLen
}

// hkdfExpandLabel implements TLS 1.3's HKDF-Expand-Label (RFC 8446 §7.1)
// with an empty context, as QUIC uses it for its key/iv/hp secrets: it
// feeds the HkdfLabel structure (output length, "tls13 <label>", empty
// context) through hkdf.Expand seeded by the traffic secret.
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	fullLabel := "tls13 " + label
	info := make([]byte, 0, 4+len(fullLabel))
	info = append(info, byte(length>>8), byte(length), byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, 0)
	r := hkdf.Expand(sha256.New, secret, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("handshake: HKDF-Expand-Label(%s) failed: %v", label, err))
	}
	return out
}

// deriveAEADAndHeaderProtector derives the AEAD and header-protection
// cipher for one epoch from its traffic secret, per RFC 9001 §5.1: the
// "quic key"/"quic iv" labels feed the AEAD, "quic hp" feeds header
// protection. AES-128-GCM is used throughout, matching the cipher suite
// Fizz negotiates for the handshake epochs in the original client.
func deriveAEADAndHeaderProtector(secret []byte) (AEAD, HeaderProtector) {
	key := hkdfExpandLabel(secret, quicKeyLabel, 16)
	iv := hkdfExpandLabel(secret, quicIVLabel, 12)
	hpKey := hkdfExpandLabel(secret, quicHPLabel, 16)

	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	hpBlock, err := aes.NewCipher(hpKey)
	if err != nil {
		panic(err)
	}
	return &aeadAndHeaderCipher{aead: gcm, iv: iv}, &aesHeaderProtector{block: hpBlock}
}
