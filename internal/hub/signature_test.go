package hub

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain"
)

func TestSign(t *testing.T) {
	header := Sign("secret", []byte("payload"))

	require.True(t, strings.HasPrefix(header, "sha256="))
	assert.NoError(t, VerifySignature("secret", []byte("payload"), header))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`<rss version="2.0"></rss>`)
	secret := "0123456789abcdef"

	sha1Header := func() string {
		mac := hmac.New(sha1.New, []byte(secret))
		mac.Write(body)
		return "sha1=" + hex.EncodeToString(mac.Sum(nil))
	}()

	tests := []struct {
		name    string
		secret  string
		header  string
		wantErr bool
	}{
		{name: "valid sha256", secret: secret, header: Sign(secret, body)},
		{name: "valid sha1", secret: secret, header: sha1Header},
		{name: "wrong secret", secret: "other-secret", header: Sign(secret, body), wantErr: true},
		{name: "missing separator", secret: secret, header: "sha256deadbeef", wantErr: true},
		{name: "unsupported method", secret: secret, header: "md5=deadbeef", wantErr: true},
		{name: "non-hex digest", secret: secret, header: "sha256=not-hex", wantErr: true},
		{name: "empty header", secret: secret, header: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, body, tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrSignatureMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	header := Sign("secret", []byte("original"))

	err := VerifySignature("secret", []byte("tampered"), header)
	assert.True(t, errors.Is(err, domain.ErrSignatureMismatch))
}
