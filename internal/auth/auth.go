package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DEFAULT_ACCESS_TTL  = 15 * time.Minute
	DEFAULT_REFRESH_TTL = 7 * 24 * time.Hour
)

var (
	ErrMissingSecret = errors.New("token secrets must not be empty")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// Claims 是令牌中携带的身份
type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Options struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Issuer 签发和校验访问令牌与刷新令牌，两者使用不同的密钥
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewIssuer(opts Options) (*Issuer, error) {
	if opts.AccessSecret == "" || opts.RefreshSecret == "" {
		return nil, ErrMissingSecret
	}

	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DEFAULT_ACCESS_TTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DEFAULT_REFRESH_TTL
	}

	return &Issuer{
		accessSecret:  []byte(opts.AccessSecret),
		refreshSecret: []byte(opts.RefreshSecret),
		accessTTL:     opts.AccessTTL,
		refreshTTL:    opts.RefreshTTL,
		now:           time.Now,
	}, nil
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

func (i *Issuer) IssuePair(userID, username string) (TokenPair, error) {
	access, err := i.IssueAccess(userID, username)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := i.sign(userID, username, i.refreshSecret, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (i *Issuer) IssueAccess(userID, username string) (string, error) {
	return i.sign(userID, username, i.accessSecret, i.accessTTL)
}

func (i *Issuer) VerifyAccess(token string) (*Claims, error) {
	return i.verify(token, i.accessSecret)
}

func (i *Issuer) VerifyRefresh(token string) (*Claims, error) {
	return i.verify(token, i.refreshSecret)
}

func (i *Issuer) sign(userID, username string, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()

	claims := Claims{
		ID:       userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("签发令牌失败: %w", err)
	}

	return signed, nil
}

func (i *Issuer) verify(token string, secret []byte) (*Claims, error) {
	var claims Claims

	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}

	return &claims, nil
}
