package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	errMalformedToken = errors.New("malformed download token")
	errBadSignature   = errors.New("invalid download token signature")
	errTokenExpired   = errors.New("download token expired")
)

// DownloadClaims is the content of a verified download token.
type DownloadClaims struct {
	ExportID  string
	Key       string
	ExpiresAt time.Time
}

// SignedURLSigner issues HMAC-SHA256 tokens binding an export id to a storage key.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer; ttl defaults to 24h.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a URL-safe token of the form payload.signature.
func (s *SignedURLSigner) Sign(exportID, key string) (string, time.Time, error) {
	if exportID == "" || key == "" {
		return "", time.Time{}, fmt.Errorf("export id and key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	payload := strings.Join([]string{exportID, strconv.FormatInt(expiresAt.Unix(), 10), key}, "\n")
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + s.signature(encoded), expiresAt, nil
}

// Verify checks the signature and, unless allowExpired, the expiry.
func (s *SignedURLSigner) Verify(token string, allowExpired bool) (*DownloadClaims, error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return nil, errMalformedToken
	}
	if !hmac.Equal([]byte(s.signature(encoded)), []byte(signature)) {
		return nil, errBadSignature
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errMalformedToken
	}
	parts := strings.SplitN(string(raw), "\n", 3)
	if len(parts) != 3 {
		return nil, errMalformedToken
	}
	unix, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, errMalformedToken
	}
	claims := &DownloadClaims{ExportID: parts[0], Key: parts[2], ExpiresAt: time.Unix(unix, 0)}
	if !allowExpired && s.now().After(claims.ExpiresAt) {
		return nil, errTokenExpired
	}
	return claims, nil
}

func (s *SignedURLSigner) signature(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
