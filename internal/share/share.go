package share

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Header carries a share token on API requests.
const Header = "X-Share-Token"

const audience = "worksafe-share"

var ErrInvalidToken = errors.New("invalid share token")

// Grant is what a share token entitles: one work order of one namespace.
type Grant struct {
	Namespace   string
	WorkOrderID string
	ExpiresAt   time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Namespace   string `json:"ns"`
	WorkOrderID string `json:"wo"`
}

// Issuer signs and verifies share tokens with an HS256 secret.
type Issuer struct {
	Secret []byte
	Now    func() time.Time
}

func NewIssuer(secret string) (Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return Issuer{}, errors.New("share secret not configured")
	}
	return Issuer{Secret: []byte(secret), Now: time.Now}, nil
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Issue signs a token for namespace/woID that expires after ttl.
func (i Issuer) Issue(namespace, woID string, ttl time.Duration) (string, error) {
	if namespace == "" || woID == "" {
		return "", errors.New("namespace and work order are required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	now := i.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   namespace + "/" + woID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Namespace:   namespace,
		WorkOrderID: woID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.Secret)
	if err != nil {
		return "", fmt.Errorf("sign share token: %w", err)
	}
	return token, nil
}

// Verify checks signature, audience and expiry and returns the grant.
func (i Issuer) Verify(token string) (Grant, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return i.Secret, nil
	})
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || c.Namespace == "" || c.WorkOrderID == "" {
		return Grant{}, ErrInvalidToken
	}
	return Grant{Namespace: c.Namespace, WorkOrderID: c.WorkOrderID, ExpiresAt: c.ExpiresAt.Time}, nil
}

// Link builds the signing link handed to a guest.
func Link(baseURL string, g Grant, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("owner", g.Namespace)
	q.Set("wo", g.WorkOrderID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
