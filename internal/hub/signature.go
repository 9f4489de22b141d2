package hub

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"feedsync/internal/domain"
)

// Sign computes the sha256 signature header value for a notification body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hub content notification's signature header
// (X-Hub-Signature or X-Hub-Signature-256) against the shared secret.
// The header format is "<method>=<hex digest>" over the raw request body.
// Nothing in the body may be trusted before this check passes.
func VerifySignature(secret string, body []byte, header string) error {
	method, wantHex, ok := strings.Cut(header, "=")
	if !ok {
		return fmt.Errorf("%w: malformed signature header", domain.ErrSignatureMismatch)
	}

	var newHash func() hash.Hash
	switch method {
	case "sha1":
		newHash = sha1.New
	case "sha256":
		newHash = sha256.New
	default:
		return fmt.Errorf("%w: unsupported method %q", domain.ErrSignatureMismatch, method)
	}

	want, err := hex.DecodeString(wantHex)
	if err != nil {
		return fmt.Errorf("%w: malformed digest", domain.ErrSignatureMismatch)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)

	if !hmac.Equal(mac.Sum(nil), want) {
		return domain.ErrSignatureMismatch
	}

	return nil
}
