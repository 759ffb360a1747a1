// Package auth verifies bearer JWTs presented on playlist requests.
//
// Only verification is implemented; token issuance belongs to the
// operator's identity service. The algorithm is pinned at construction:
// a token whose header names anything else, including "none", is rejected
// before its claims are read.
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenMalformed = errors.New("token malformed")
	ErrAlgMismatch    = errors.New("algorithm mismatch")
	ErrInvalidSig     = errors.New("invalid signature")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenNotActive = errors.New("token not yet active")
)

// Claims are the registered claims consulted by the proxy.
type Claims struct {
	Iss string `json:"iss,omitempty"`
	Aud string `json:"aud,omitempty"`
	Sub string `json:"sub,omitempty"`
	Jti string `json:"jti,omitempty"`
	Iat int64  `json:"iat,omitempty"`
	Nbf int64  `json:"nbf,omitempty"`
	Exp int64  `json:"exp,omitempty"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid,omitempty"`
}

// Verifier checks tokens against one configured algorithm and key.
type Verifier struct {
	alg    string
	secret []byte
	rsaKey *rsa.PublicKey
}

// NewHS256 returns a verifier for HMAC-SHA256 tokens.
func NewHS256(secret []byte) *Verifier {
	return &Verifier{alg: "HS256", secret: secret}
}

// NewRS256 returns a verifier for RSA-SHA256 tokens. keyData is either a
// PEM public key (or certificate) or a JWK with kty RSA.
func NewRS256(keyData []byte) (*Verifier, error) {
	key, err := parseRSAPublicKey(keyData)
	if err != nil {
		return nil, err
	}
	return &Verifier{alg: "RS256", rsaKey: key}, nil
}

// Alg returns the pinned algorithm name.
func (v *Verifier) Alg() string { return v.alg }

// Verify checks the token signature, algorithm, and time claims at now.
func (v *Verifier) Verify(token string, now time.Time) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}

	hJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var h header
	if err := json.Unmarshal(hJSON, &h); err != nil {
		return nil, ErrTokenMalformed
	}
	// "none" and algorithm confusion are rejected here, before any
	// signature or claim is considered.
	if h.Alg != v.alg {
		return nil, ErrAlgMismatch
	}

	signed := parts[0] + "." + parts[1]
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidSig
	}
	switch v.alg {
	case "HS256":
		mac := hmac.New(sha256.New, v.secret)
		mac.Write([]byte(signed))
		if !hmac.Equal(mac.Sum(nil), sig) {
			return nil, ErrInvalidSig
		}
	case "RS256":
		digest := sha256.Sum256([]byte(signed))
		if err := rsa.VerifyPKCS1v15(v.rsaKey, crypto.SHA256, digest[:], sig); err != nil {
			return nil, ErrInvalidSig
		}
	default:
		return nil, ErrAlgMismatch
	}

	cJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(cJSON, &claims); err != nil {
		return nil, ErrTokenMalformed
	}

	unix := now.Unix()
	if claims.Exp != 0 && unix >= claims.Exp {
		return nil, ErrTokenExpired
	}
	if claims.Nbf != 0 && unix < claims.Nbf {
		return nil, ErrTokenNotActive
	}
	return &claims, nil
}

// SignHS256 creates an HS256 token, used by tests and tooling.
func SignHS256(secret []byte, claims Claims) (string, error) {
	return signHS256WithHeader(secret, header{Alg: "HS256", Typ: "JWT"}, claims)
}

func signHS256WithHeader(secret []byte, h header, claims Claims) (string, error) {
	hJSON, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	cJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signed := base64.RawURLEncoding.EncodeToString(hJSON) + "." +
		base64.RawURLEncoding.EncodeToString(cJSON)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signed))
	return signed + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

type jwk struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func parseRSAPublicKey(keyData []byte) (*rsa.PublicKey, error) {
	if block, _ := pem.Decode(keyData); block != nil {
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			key, ok := cert.PublicKey.(*rsa.PublicKey)
			if !ok {
				return nil, errors.New("certificate key is not RSA")
			}
			return key, nil
		default:
			if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
				if rsaKey, ok := key.(*rsa.PublicKey); ok {
					return rsaKey, nil
				}
				return nil, errors.New("PEM key is not RSA")
			}
			if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
				return key, nil
			}
			return nil, errors.New("unsupported PEM block")
		}
	}

	var k jwk
	if err := json.Unmarshal(keyData, &k); err != nil {
		return nil, fmt.Errorf("key is neither PEM nor JWK: %w", err)
	}
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("JWK kty %q is not RSA", k.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("JWK modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("JWK exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}
