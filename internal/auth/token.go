package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oneflow-erp/oneflow-api/internal"
	coreuser "github.com/oneflow-erp/oneflow-api/internal/core/user"
)

const refreshTokenType = "refresh"

// The aud claim is emitted as a plain string, not a one-element array.
// This flips a process-wide jwt/v5 default on purpose: every token this
// binary signs or parses goes through TokenService, and clients expect the
// string form.
func init() {
	jwt.MarshalSingleStringAsArray = false
}

// TokenKind tags why verification failed.
type TokenKind string

const (
	TokenMalformed        TokenKind = "malformed"
	TokenExpired          TokenKind = "expired"
	TokenBadSignature     TokenKind = "bad_signature"
	TokenIssuerMismatch   TokenKind = "issuer_mismatch"
	TokenAudienceMismatch TokenKind = "audience_mismatch"
	TokenWrongType        TokenKind = "wrong_type"
	TokenRevoked          TokenKind = "revoked"
)

// TokenError is returned by every verification path. It matches
// internal.ErrInvalidToken under errors.Is regardless of Kind, and unwraps to
// the AppError the HTTP layer should render.
type TokenError struct {
	Kind  TokenKind
	Cause error
}

func (e *TokenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid token (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("invalid token (%s)", e.Kind)
}

func (e *TokenError) Is(target error) bool {
	return target == internal.ErrInvalidToken
}

func (e *TokenError) Unwrap() []error {
	errs := []error{e.AppError()}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// AppError is ErrTokenExpired for expired tokens and ErrInvalidToken otherwise,
// so clients can tell "refresh now" from "log in again".
func (e *TokenError) AppError() *internal.AppError {
	if e.Kind == TokenExpired {
		return internal.ErrTokenExpired
	}
	return internal.ErrInvalidToken
}

// IsTokenKind reports whether err is a TokenError of kind.
func IsTokenKind(err error, kind TokenKind) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Kind == kind
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type accessClaims struct {
	UserID  int64  `json:"userId"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Name    string `json:"name"`
	Version int    `json:"ver"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID  int64  `json:"userId"`
	Type    string `json:"type"`
	Version int    `json:"ver"`
	jwt.RegisteredClaims
}

// verifiedClaims is the superset read back during verification; Type tells
// access and refresh tokens apart.
type verifiedClaims struct {
	UserID  int64  `json:"userId"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Version int    `json:"ver"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 access and refresh tokens under one
// shared secret. It holds no mutable state.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	expiresIn  string
	issuer     string
	audience   string
	now        func() time.Time
}

func NewTokenService(cfg internal.SecurityConfig) (*TokenService, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	accessTTL, err := internal.ParseDuration(cfg.AccessTokenExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("access token ttl: %w", err)
	}
	refreshTTL, err := internal.ParseDuration(cfg.RefreshTokenExpiresIn)
	if err != nil {
		return nil, fmt.Errorf("refresh token ttl: %w", err)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token ttls must be positive")
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = internal.DefaultIssuer
	}
	audience := cfg.Audience
	if audience == "" {
		audience = internal.DefaultAudience
	}

	return &TokenService{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		expiresIn:  cfg.AccessTokenExpiresIn,
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}, nil
}

// WithClock returns a copy that reads time from now. Used by tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}

func (s *TokenService) GenerateTokens(p coreuser.ClaimPayload) (*TokenPair, error) {
	now := s.now()

	access := accessClaims{
		UserID:           p.UserID,
		Email:            p.Email,
		Role:             string(p.Role),
		Name:             p.Name,
		Version:          p.TokenVersion,
		RegisteredClaims: s.registered(now, s.accessTTL),
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := refreshClaims{
		UserID:           p.UserID,
		Type:             refreshTokenType,
		Version:          p.TokenVersion,
		RegisteredClaims: s.registered(now, s.refreshTTL),
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.expiresIn,
	}, nil
}

func (s *TokenService) registered(now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// VerifyToken checks signature, expiry, issuer and audience of an access
// token and returns its claims. Refresh tokens are rejected.
func (s *TokenService) VerifyToken(token string) (*coreuser.ClaimPayload, error) {
	claims, err := s.verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != "" {
		return nil, &TokenError{Kind: TokenWrongType}
	}
	return &coreuser.ClaimPayload{
		UserID:       claims.UserID,
		Email:        claims.Email,
		Role:         coreuser.Role(claims.Role),
		Name:         claims.Name,
		TokenVersion: claims.Version,
	}, nil
}

// VerifyRefreshToken is VerifyToken for refresh tokens; anything whose type
// is not "refresh" fails with TokenWrongType.
func (s *TokenService) VerifyRefreshToken(token string) (*coreuser.RefreshPayload, error) {
	claims, err := s.verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != refreshTokenType {
		return nil, &TokenError{Kind: TokenWrongType}
	}
	return &coreuser.RefreshPayload{
		UserID:       claims.UserID,
		Type:         claims.Type,
		TokenVersion: claims.Version,
	}, nil
}

func (s *TokenService) verify(token string) (*verifiedClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &verifiedClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, &TokenError{Kind: TokenMalformed}
	}
	return claims, nil
}

func classify(err error) *TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Kind: TokenExpired, Cause: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &TokenError{Kind: TokenBadSignature, Cause: err}
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return &TokenError{Kind: TokenIssuerMismatch, Cause: err}
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return &TokenError{Kind: TokenAudienceMismatch, Cause: err}
	default:
		return &TokenError{Kind: TokenMalformed, Cause: err}
	}
}

// ExtractTokenFromHeader parses "Bearer <token>". It returns "" for a missing
// or malformed header and is never an authorization decision by itself.
func ExtractTokenFromHeader(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// DecodeToken reads the payload without checking the signature. For display
// only; never authorize on its output.
func DecodeToken(token string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

// GetTokenExpiration returns the unverified exp claim, or nil.
func GetTokenExpiration(token string) *time.Time {
	claims := DecodeToken(token)
	if claims == nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}

// IsTokenExpired treats undecodable tokens and tokens without exp as expired.
func IsTokenExpired(token string) bool {
	exp := GetTokenExpiration(token)
	return exp == nil || !exp.After(time.Now())
}
