package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
)

var ErrEmptySecret = errors.New("signing secret is empty")

// Signer computes the keyed signature the exchange re-derives server-side.
// The payload must be the exact byte string transmitted on the wire; any
// difference between what is signed and what is sent is a rejected request.
type Signer struct {
	secret []byte
}

func NewSigner(secretKey string) (*Signer, error) {
	if secretKey == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secretKey)}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 of payload.
func (s *Signer) Sign(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Canonical renders params in the exact form the gateway transmits:
// url.Values.Encode() sorts keys and URL-encodes values, so signing and
// sending always agree byte-for-byte.
func Canonical(params url.Values) string {
	if params == nil {
		return ""
	}
	return params.Encode()
}
