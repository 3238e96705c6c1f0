package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminSubject is the only subject an admin token is issued for.
const AdminSubject = "admin"

var (
	ErrDisabled           = errors.New("auth: admin access is not configured")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Claims represents JWT claims used by this service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Admin checks the admin password and issues short-lived HS256 tokens.
type Admin struct {
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewAdmin builds an Admin from a bcrypt hash. An empty hash disables login.
func NewAdmin(passwordHash, secret string, ttl time.Duration) *Admin {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Admin{passwordHash: []byte(passwordHash), secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether both a password hash and a signing secret are configured.
func (a *Admin) Enabled() bool {
	return len(a.passwordHash) > 0 && len(a.secret) > 0
}

// Login verifies password and returns a signed token with its expiry.
func (a *Admin) Login(password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	if bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)) != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		Role: AdminSubject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   AdminSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify validates a token and returns its claims.
func (a *Admin) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("auth: empty token")
	}
	if len(a.secret) == 0 {
		return nil, ErrDisabled
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Role != AdminSubject {
		return nil, errors.New("auth: invalid role")
	}
	return claims, nil
}

// HashPassword returns the bcrypt hash to put in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}
