package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
)

// CookieName is the cookie the session token travels in.
const CookieName = "token"

// CookieCodec authenticates and encrypts the session token before it is
// placed in a cookie. Bearer headers carry the bare token instead.
type CookieCodec struct {
	codec *securecookie.SecureCookie
}

func NewCookieCodec(secret string, maxAge time.Duration) *CookieCodec {
	hashKey := deriveKey(secret, "cookie-hash")
	blockKey := deriveKey(secret, "cookie-block")

	codec := securecookie.New(hashKey, blockKey)
	codec.MaxAge(int(maxAge.Seconds()))

	return &CookieCodec{codec: codec}
}

func (c *CookieCodec) Encode(token string) (string, error) {
	value, err := c.codec.Encode(CookieName, token)
	if err != nil {
		return "", fmt.Errorf("encode cookie: %w", err)
	}
	return value, nil
}

func (c *CookieCodec) Decode(value string) (string, error) {
	var token string
	if err := c.codec.Decode(CookieName, value, &token); err != nil {
		return "", fmt.Errorf("decode cookie: %w", err)
	}
	return token, nil
}

func deriveKey(secret string, label string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(label))
	return mac.Sum(nil)
}
