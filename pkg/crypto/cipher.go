package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// Cipher шифрует секреты внешних аккаунтов для хранения в базе.
// AES-256-GCM с фиксированной парой ключ/nonce, задаваемой через окружение;
// секреты никогда не хранятся в открытом виде.
type Cipher struct {
	aead  cipher.AEAD
	nonce []byte
}

// NewCipher создает шифратор из hex-представления ключа (32 байта) и nonce (12 байт)
func NewCipher(keyHex, ivHex string) (*Cipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("некорректный hex ключа шифрования: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("ключ шифрования должен быть длиной 32 байта")
	}

	nonce, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("некорректный hex nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("не удалось инициализировать AES: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("не удалось инициализировать GCM: %w", err)
	}

	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce должен быть длиной %d байт", aead.NonceSize())
	}

	return &Cipher{aead: aead, nonce: nonce}, nil
}

// Encrypt шифрует секрет и возвращает base64 строку для хранения
func (c *Cipher) Encrypt(plaintext string) string {
	sealed := c.aead.Seal(nil, c.nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed)
}

// Decrypt расшифровывает секрет из base64 строки
func (c *Cipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("некорректный base64 зашифрованного секрета: %w", err)
	}

	plaintext, err := c.aead.Open(nil, c.nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("не удалось расшифровать секрет: %w", err)
	}

	return string(plaintext), nil
}
