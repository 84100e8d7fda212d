package gallery

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// blobClaims is the payload of a minted download URL's token: just the
// blob key and the standard expiry claim. The key never appears in the
// URL's query string in the clear — only inside the signed token — so the
// store's layout (owner/id/before|after.jpg) stays opaque to clients
// (spec.md §4.9 "the store exposes no raw blob locations").
type blobClaims struct {
	jwt.RegisteredClaims
	BlobKey string `json:"blob_key"`
}

// jwtMinter is C9's URLMinter implementation.
type jwtMinter struct {
	signingKey []byte
	baseURL    string
}

// NewJWTMinter builds a URLMinter that signs HS256 tokens with signingKey
// and renders download URLs as baseURL + "?token=" + <jwt>. baseURL is
// typically the gateway's own "/gallery/blob" download endpoint (see
// internal/httpapi), which verifies the token and streams the blob back.
func NewJWTMinter(signingKey []byte, baseURL string) URLMinter {
	return &jwtMinter{signingKey: signingKey, baseURL: baseURL}
}

func (m *jwtMinter) Mint(key string, ttl time.Duration) (string, error) {
	claims := blobClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		BlobKey: key,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return fmt.Sprintf("%s?token=%s", m.baseURL, signed), nil
}

// VerifyToken parses and validates a minted download token, returning the
// blob key it authorizes. Used by the /gallery/blob download handler.
func VerifyToken(signingKey []byte, tokenStr string) (string, error) {
	claims := &blobClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid or expired download token: %w", err)
	}
	return claims.BlobKey, nil
}
