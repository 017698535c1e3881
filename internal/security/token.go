package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the access token lifetime used when none is configured.
const DefaultTokenTTL = 15 * time.Minute

var (
	// ErrTokenExpired indicates the token expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid indicates a bad signature, malformed payload, or missing subject.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrEmptySecret indicates the signing secret was not configured.
	ErrEmptySecret = errors.New("empty signing secret")
)

// TokenService issues and verifies HS256 bearer tokens carrying a user ID.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService. A nil clock uses time.Now.
func NewTokenService(secret []byte, ttl time.Duration, now func() time.Time) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenService{secret: key, ttl: ttl, now: now}, nil
}

// TTL returns the default lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for subject valid for ttl. A non-positive ttl uses the service default.
func (s *TokenService) Issue(subject uint64, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(subject, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the subject user ID.
func (s *TokenService) Verify(token string) (uint64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, ErrTokenInvalid
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return 0, ErrTokenInvalid
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return 0, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	userID, errParse := strconv.ParseUint(subject, 10, 64)
	if errParse != nil || userID == 0 {
		return 0, fmt.Errorf("%w: malformed subject", ErrTokenInvalid)
	}
	return userID, nil
}
