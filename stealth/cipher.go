package stealth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// Encrypt encrypts data with AES-CBC. The first 16 bytes of sharedKey are the
// IV and the remaining 16 the AES key. Plaintext is PKCS#7 padded.
//
// sharedKey must be SharedKeyLen bytes; anything else is a caller bug and panics.
func Encrypt(sharedKey, data []byte) []byte {
	block, iv := splitKey(sharedKey)

	padLen := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	copy(padded[len(data):], bytes.Repeat([]byte{byte(padLen)}, padLen))

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

// Decrypt reverses Encrypt.
func Decrypt(sharedKey, data []byte) ([]byte, error) {
	block, iv := splitKey(sharedKey)

	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of %d",
			ErrInvalidCiphertext, len(data), aes.BlockSize)
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	padLen := int(out[len(out)-1])
	if padLen == 0 || padLen > aes.BlockSize {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
	}
	for _, b := range out[len(out)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
		}
	}
	return out[:len(out)-padLen], nil
}

// PayloadHMAC computes HMAC-SHA256(sharedKey, payloadDigest).
func PayloadHMAC(sharedKey, payloadDigest []byte) []byte {
	mac := hmac.New(sha256.New, sharedKey)
	mac.Write(payloadDigest)
	return mac.Sum(nil)
}

func splitKey(sharedKey []byte) (cipher.Block, []byte) {
	if len(sharedKey) != SharedKeyLen {
		panic(fmt.Sprintf("stealth: shared key must be %d bytes, got %d", SharedKeyLen, len(sharedKey)))
	}
	block, err := aes.NewCipher(sharedKey[aes.BlockSize:])
	if err != nil {
		panic(fmt.Sprintf("stealth: aes: %v", err))
	}
	return block, sharedKey[:aes.BlockSize]
}
