package cache

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frame markers let Decode recognize which stages Encode applied, so a codec
// with different options can still read back plain-JSON payloads.
const (
	frameJSON      byte = 'J'
	frameGzip      byte = 'G'
	frameEncrypted byte = 'E'
)

// ErrNoValue is reported when a payload cannot be decoded by any path.
var ErrNoValue = errors.New("cache payload unreadable")

// Codec serializes cache values through a pipeline of
// JSON -> optional gzip -> optional AES-GCM, inverted on read. Any stage
// failure falls back to plain JSON; if every path fails the caller gets
// "no value", never a panic or a propagated fault.
type Codec struct {
	compress bool
	aead     cipher.AEAD
}

// NewCodec creates a codec. An empty encryptKey disables encryption;
// otherwise the key is stretched with SHA-256 into an AES-256-GCM key.
func NewCodec(compress bool, encryptKey string) *Codec {
	c := &Codec{compress: compress}
	if encryptKey != "" {
		sum := sha256.Sum256([]byte(encryptKey))
		if block, err := aes.NewCipher(sum[:]); err == nil {
			if aead, err := cipher.NewGCM(block); err == nil {
				c.aead = aead
			}
		}
	}
	return c
}

// Encode serializes v to bytes. On any pipeline failure it falls back to
// plain JSON.
func (c *Codec) Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}

	payload := raw
	frame := frameJSON

	if c.compress {
		if compressed, err := gzipBytes(raw); err == nil {
			payload = compressed
			frame = frameGzip
		}
	}

	if c.aead != nil {
		if sealed, err := c.seal(payload, frame); err == nil {
			return append([]byte{frameEncrypted}, sealed...), nil
		}
		// Encryption failure degrades to the unencrypted frame.
	}

	return append([]byte{frame}, payload...), nil
}

// Decode deserializes data into v. A pipeline failure falls back to
// interpreting the payload as plain JSON; ultimate failure reports ErrNoValue.
func (c *Codec) Decode(data []byte, v any) error {
	if len(data) < 2 {
		return ErrNoValue
	}

	frame, payload := data[0], data[1:]

	switch frame {
	case frameEncrypted:
		if c.aead == nil {
			return ErrNoValue
		}
		inner, innerFrame, err := c.open(payload)
		if err != nil {
			return ErrNoValue
		}
		frame, payload = innerFrame, inner
	case frameGzip, frameJSON:
	default:
		// Unknown frame: last-ditch attempt to read the whole blob as JSON.
		if err := json.Unmarshal(data, v); err == nil {
			return nil
		}
		return ErrNoValue
	}

	if frame == frameGzip {
		raw, err := gunzipBytes(payload)
		if err != nil {
			if jsonErr := json.Unmarshal(payload, v); jsonErr == nil {
				return nil
			}
			return ErrNoValue
		}
		payload = raw
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return ErrNoValue
	}
	return nil
}

// seal encrypts payload, prefixing the inner frame byte and nonce.
func (c *Codec) seal(payload []byte, innerFrame byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	plaintext := append([]byte{innerFrame}, payload...)
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// open decrypts a sealed payload and returns the inner payload and frame.
func (c *Codec) open(data []byte) ([]byte, byte, error) {
	ns := c.aead.NonceSize()
	if len(data) < ns+1 {
		return nil, 0, ErrNoValue
	}
	plaintext, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil || len(plaintext) < 1 {
		return nil, 0, ErrNoValue
	}
	return plaintext[1:], plaintext[0], nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
