package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenInvalid = errors.New("invalid download token")
	ErrTokenExpired = errors.New("download token expired")
)

// SignedToken is the decoded form of a download token.
type SignedToken struct {
	ExportID  string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates signed download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns how long generated tokens stay valid.
func (s *SignedURLSigner) TTL() time.Duration { return s.ttl }

// Generate returns a token granting download of relPath for exportID.
func (s *SignedURLSigner) Generate(exportID, relPath string) (SignedToken, string, error) {
	if exportID == "" || relPath == "" {
		return SignedToken{}, "", fmt.Errorf("exportID and relPath required")
	}
	if strings.Contains(exportID, ".") {
		return SignedToken{}, "", fmt.Errorf("exportID must not contain '.'")
	}
	if len(s.secret) == 0 {
		return SignedToken{}, "", fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{exportID, ts, encodedPath, s.sign(exportID, ts, encodedPath)}, ".")
	return SignedToken{ExportID: exportID, Path: relPath, ExpiresAt: expiresAt}, token, nil
}

// Parse validates a token and returns the embedded metadata.
func (s *SignedURLSigner) Parse(token string) (SignedToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return SignedToken{}, ErrTokenInvalid
	}
	exportID, ts, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	expected := s.sign(exportID, ts, encodedPath)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return SignedToken{}, ErrTokenInvalid
	}

	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return SignedToken{}, ErrTokenInvalid
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return SignedToken{}, ErrTokenInvalid
	}

	parsed := SignedToken{ExportID: exportID, Path: string(rawPath), ExpiresAt: time.Unix(expUnix, 0)}
	if s.now().After(parsed.ExpiresAt) {
		return parsed, ErrTokenExpired
	}
	return parsed, nil
}

func (s *SignedURLSigner) sign(exportID, ts, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(exportID + "|" + ts + "|" + encodedPath))
	return hex.EncodeToString(mac.Sum(nil))
}
