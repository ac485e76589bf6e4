package voice

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessTokenContentType marks the JWT as a carrier access token.
const accessTokenContentType = "twilio-fpa;v=1"

// AccessTokenClaims is the carrier access token shape.
type AccessTokenClaims struct {
	jwt.RegisteredClaims

	Grants Grants `json:"grants"`
}

type Grants struct {
	Identity string     `json:"identity"`
	Voice    VoiceGrant `json:"voice"`
}

type VoiceGrant struct {
	Incoming *IncomingGrant `json:"incoming,omitempty"`
	Outgoing *OutgoingGrant `json:"outgoing,omitempty"`
}

type IncomingGrant struct {
	Allow bool `json:"allow"`
}

type OutgoingGrant struct {
	ApplicationSID string `json:"application_sid"`
}

// TokenMinter signs browser calling credentials. A credential is bound to
// one identity and is never stored.
type TokenMinter struct {
	accountSID string
	keySID     string
	secret     []byte
	appSID     string
	ttl        time.Duration
}

func NewTokenMinter(accountSID, keySID, secret, appSID string, ttl time.Duration) (*TokenMinter, error) {
	if accountSID == "" || keySID == "" || secret == "" || appSID == "" {
		return nil, errors.New("voice: token minter requires account, key, secret and application")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenMinter{
		accountSID: accountSID,
		keySID:     keySID,
		secret:     []byte(secret),
		appSID:     appSID,
		ttl:        ttl,
	}, nil
}

// Mint issues a token for identity valid from now for the minter's TTL.
func (m *TokenMinter) Mint(now time.Time, identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", ErrInvalidArgument
	}

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", m.keySID, now.Unix()),
			Issuer:    m.keySID,
			Subject:   m.accountSID,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Grants: Grants{
			Identity: identity,
			Voice: VoiceGrant{
				Incoming: &IncomingGrant{Allow: true},
				Outgoing: &OutgoingGrant{ApplicationSID: m.appSID},
			},
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["cty"] = accessTokenContentType
	return t.SignedString(m.secret)
}

// Parse verifies a token minted with the same secret. The carrier does this
// on its side; it is exposed for diagnostics and tests.
func (m *TokenMinter) Parse(raw string, now time.Time) (AccessTokenClaims, error) {
	var claims AccessTokenClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(m.keySID),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return AccessTokenClaims{}, err
	}
	return claims, nil
}
