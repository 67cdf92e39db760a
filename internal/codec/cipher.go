package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// randReader 测试中可替换
var randReader io.Reader = rand.Reader

func newGCM(key Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return gcm, nil
}

// Encrypt AES-256-GCM，每次调用都生成新的 96-bit IV（不接受调用方传入 IV）
// 返回的 ciphertext 已包含 16 字节认证 tag
func Encrypt(plaintext []byte, key Key) (ciphertext, iv []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, IVSize)
	if _, err := io.ReadFull(randReader, iv); err != nil {
		return nil, nil, fmt.Errorf("%w: read iv: %v", ErrCryptoUnavailable, err)
	}
	return gcm.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt tag 不匹配或输入畸形时返回 ErrDecryptionFailed，不返回部分明文
func Decrypt(ciphertext, iv []byte, key Key) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrDecryptionFailed, IVSize, len(iv))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
