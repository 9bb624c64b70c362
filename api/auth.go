package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"tasklane/domain"
)

const defaultJWKSCacheTTL = 15 * time.Minute

var (
	errTokenExpired    = errors.New("token expired")
	errInvalidAudience = errors.New("invalid audience")
	errInvalidIssuer   = errors.New("invalid issuer")
	errMissingSubject  = errors.New("missing sub")
)

// Auth validates bearer JWTs and turns their claims into a principal.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth verifies RS256 tokens against the given key set.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: defaultJWKSCacheTTL,
	}
}

// NewLocalAuth verifies HS256 tokens signed with a shared secret. Used for
// local runs and tests.
func NewLocalAuth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		Audience:   audience,
		Issuer:     issuer,
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// IssueLocalToken signs an HS256 token for p that this Auth accepts. Only
// local auth can issue tokens.
func (a *Auth) IssueLocalToken(p domain.Principal, ttl time.Duration) (string, error) {
	if !a.TestMode {
		return "", errors.New("token issuing requires local auth")
	}
	if p.ID == "" {
		return "", errMissingSubject
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": p.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if a.Audience != "" {
		claims["aud"] = a.Audience
	}
	if a.Issuer != "" {
		claims["iss"] = a.Issuer
	}
	if p.Email != "" {
		claims["email"] = p.Email
	}
	if p.DisplayName != "" {
		claims["name"] = p.DisplayName
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.TestSecret)
}

// PrincipalFromAuthHeader authenticates the Authorization header value.
func (a *Auth) PrincipalFromAuthHeader(h string) (domain.Principal, error) {
	if h == "" {
		return domain.Principal{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(h)
	if err != nil {
		return domain.Principal{}, err
	}
	return a.PrincipalFromBearer(token)
}

// PrincipalFromBearer authenticates a raw bearer token.
func (a *Auth) PrincipalFromBearer(token []byte) (domain.Principal, error) {
	if len(token) == 0 {
		return domain.Principal{}, errBadAuthorization
	}

	tokenStr := readOnlyString(token)
	var parsedToken *jwt.Token
	var err error
	if a.TestMode {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, a.keyForToken)
	}
	if err != nil {
		return domain.Principal{}, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, errors.New("invalid claims")
	}

	now := time.Now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return domain.Principal{}, errTokenExpired
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return domain.Principal{}, errInvalidAudience
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return domain.Principal{}, errInvalidIssuer
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Principal{}, errMissingSubject
	}
	p := domain.Principal{ID: sub}
	p.Email, _ = claims["email"].(string)
	p.DisplayName, _ = claims["name"].(string)
	if p.DisplayName == "" {
		p.DisplayName, _ = claims["nickname"].(string)
	}
	return p, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
