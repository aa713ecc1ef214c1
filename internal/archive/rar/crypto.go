package rar

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

const (
	rar3HashRounds = 0x40000
	rar3IVStep     = rar3HashRounds / 16

	rar5MaxKDFCount   = 24
	rar5CheckSize     = 8
	rar5CheckSumSize  = 4
	rar5SaltSize      = 16
	rar5InitVectorLen = 16
)

var errCipherLength = errors.New("ciphertext is not a multiple of the block size")

// utf16le encodes password the way RAR3 and 7z feed it to their KDFs.
func utf16le(password string) ([]byte, error) {
	b, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(password))
	if err != nil {
		return nil, fmt.Errorf("failed to encode password: %w", err)
	}
	return b, nil
}

type rar3Key struct {
	key [16]byte
	iv  [16]byte
}

// deriveRAR3Key runs the RAR 3.x SHA-1 key schedule over password and an 8 byte salt.
func deriveRAR3Key(password string, salt []byte) (rar3Key, error) {
	var k rar3Key

	pw, err := utf16le(password)
	if err != nil {
		return k, err
	}
	raw := make([]byte, 0, len(pw)+len(salt))
	raw = append(raw, pw...)
	raw = append(raw, salt...)

	h := sha1.New()
	var counter [3]byte
	for i := 0; i < rar3HashRounds; i++ {
		h.Write(raw)
		counter[0], counter[1], counter[2] = byte(i), byte(i>>8), byte(i>>16)
		h.Write(counter[:])

		if i%rar3IVStep == 0 {
			k.iv[i/rar3IVStep] = h.Sum(nil)[19]
		}
	}

	digest := h.Sum(nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			k.key[i*4+j] = digest[i*4+3-j]
		}
	}

	return k, nil
}

// rar5Keys derives the AES-256 key and the 8 byte password check value.
// Both come from one PBKDF2-HMAC-SHA256 chain: the key is the block after
// 2^count iterations and the check value the block 32 iterations later, xor
// folded.
func rar5Keys(password string, salt []byte, count int) (key []byte, check [rar5CheckSize]byte) {
	iter := 1 << count

	mac := hmac.New(sha256.New, []byte(password))
	mac.Write(salt)
	mac.Write([]byte{0, 0, 0, 1})
	u := mac.Sum(nil)
	t := bytes.Clone(u)

	for i := 1; i < iter+32; i++ {
		if i == iter {
			key = bytes.Clone(t)
		}
		mac.Reset()
		mac.Write(u)
		u = mac.Sum(u[:0])
		for j := range t {
			t[j] ^= u[j]
		}
	}

	for i, b := range t {
		check[i%rar5CheckSize] ^= b
	}

	return key, check
}

// rar5CheckSum is the integrity value stored after the password check.
func rar5CheckSum(check []byte) []byte {
	sum := sha256.Sum256(check)
	return sum[:rar5CheckSumSize]
}

// decryptCBC decrypts src with AES-CBC and no padding.
func decryptCBC(key, iv, src []byte) ([]byte, error) {
	if len(src)%aes.BlockSize != 0 {
		return nil, errCipherLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	dst := make([]byte, len(src))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(dst, src)
	return dst, nil
}
