// ABOUTME: Serialization boundary between cached query data and stored payloads
// ABOUTME: Plain JSON by default, AES-GCM encryption for sensitive categories

package persister

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Serializer turns cached data into a stored JSON payload and back.
// Decode returns the original data as raw JSON.
type Serializer interface {
	Encode(data any) (json.RawMessage, error)
	Decode(stored json.RawMessage) (json.RawMessage, error)
}

// JSONSerializer stores data as plain JSON
type JSONSerializer struct{}

func (JSONSerializer) Encode(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New("invalid raw JSON")
		}
		return raw, nil
	}
	return json.Marshal(data)
}

func (JSONSerializer) Decode(stored json.RawMessage) (json.RawMessage, error) {
	return stored, nil
}

// ErrInvalidKey is returned for encryption keys that are not 16, 24 or 32 bytes
var ErrInvalidKey = errors.New("encryption key must be 16, 24 or 32 bytes")

// AESGCMSerializer encrypts the JSON form of data with AES-GCM. The stored
// payload is a JSON string holding base64(nonce || ciphertext).
type AESGCMSerializer struct {
	aead  cipher.AEAD
	inner JSONSerializer
}

// NewAESGCMSerializer builds a serializer from a caller-supplied key
func NewAESGCMSerializer(key []byte) (*AESGCMSerializer, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESGCMSerializer{aead: aead}, nil
}

func (s *AESGCMSerializer) Encode(data any) (json.RawMessage, error) {
	plain, err := s.inner.Encode(data)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, nil)
	return json.Marshal(base64.StdEncoding.EncodeToString(sealed))
}

func (s *AESGCMSerializer) Decode(stored json.RawMessage) (json.RawMessage, error) {
	var encoded string
	if err := json.Unmarshal(stored, &encoded); err != nil {
		return nil, fmt.Errorf("encrypted payload is not a string: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encrypted payload is not base64: %w", err)
	}

	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, errors.New("encrypted payload too short")
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload: %w", err)
	}
	return plain, nil
}

// ParseKey decodes an encryption key given as hex or base64
func ParseKey(s string) ([]byte, error) {
	for _, decode := range []func(string) ([]byte, error){
		hex.DecodeString,
		base64.StdEncoding.DecodeString,
	} {
		if key, err := decode(s); err == nil {
			switch len(key) {
			case 16, 24, 32:
				return key, nil
			}
		}
	}
	return nil, ErrInvalidKey
}
