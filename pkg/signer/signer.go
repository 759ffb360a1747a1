// Package signer creates and verifies short-lived signed URLs.
//
// The signed string is path || exp || ip, keyed with HMAC-SHA256.
// The token and expiry travel as query parameters so that any edge
// holding the same secret can verify without shared state.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// DefaultTTL is used when a caller passes a zero TTL.
const DefaultTTL = 900 * time.Second

var (
	ErrInvalidPath  = errors.New("path must start with /")
	ErrMissingToken = errors.New("token or exp missing")
	ErrBadToken     = errors.New("token mismatch")
	ErrExpired      = errors.New("signature expired")
	ErrIPMismatch   = errors.New("client IP does not match signed IP")
)

func token(secret []byte, path string, exp int64, ip string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(path))
	mac.Write([]byte(strconv.FormatInt(exp, 10)))
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns an absolute https URL for path on host, valid for ttl.
// If ip is non-empty the signature is bound to that client address.
func Sign(host string, secret []byte, path string, ttl time.Duration, ip string) (string, error) {
	if len(path) == 0 || path[0] != '/' {
		return "", ErrInvalidPath
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	exp := time.Now().Unix() + int64(ttl/time.Second)
	return SignAt(host, secret, path, exp, ip)
}

// SignAt is like Sign but with an explicit expiry, for deterministic tests.
func SignAt(host string, secret []byte, path string, exp int64, ip string) (string, error) {
	if len(path) == 0 || path[0] != '/' {
		return "", ErrInvalidPath
	}
	q := url.Values{}
	q.Set("token", token(secret, path, exp, ip))
	q.Set("exp", strconv.FormatInt(exp, 10))
	if ip != "" {
		q.Set("ip", ip)
	}
	return fmt.Sprintf("https://%s%s?%s", host, path, q.Encode()), nil
}

// Verify recomputes the token for rawURL and checks expiry and IP binding.
// clientIP is only consulted when the URL carries a signed ip parameter.
func Verify(secret []byte, rawURL string, now time.Time, clientIP string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	got := q.Get("token")
	expStr := q.Get("exp")
	if got == "" || expStr == "" {
		return ErrMissingToken
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ErrMissingToken
	}
	ip := q.Get("ip")
	want := token(secret, u.Path, exp, ip)
	if !hmac.Equal([]byte(want), []byte(got)) {
		return ErrBadToken
	}
	if now.Unix() >= exp {
		return ErrExpired
	}
	if ip != "" && ip != clientIP {
		return ErrIPMismatch
	}
	return nil
}
