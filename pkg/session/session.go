package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/fx"
)

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"

	contextKeyClaims = "session.claims"
	defaultTTL       = 12 * time.Hour
)

var (
	ErrSecretTooShort = errors.New("session secret must be at least 32 bytes")
	ErrInvalidToken   = errors.New("invalid session token")
)

var Module = fx.Module("session",
	fx.Provide(NewIssuer),
)

// Claims identify an authenticated user. Sessions say who the caller is and
// nothing about the tenant's license.
type Claims struct {
	jwt.Claims
	Role     string `json:"role"`
	TenantID string `json:"tid,omitempty"`
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	key    []byte
	issuer string
	cookie string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(cfg *config.Config) (*Issuer, error) {
	if len(cfg.Session.Secret) < 32 {
		return nil, ErrSecretTooShort
	}

	ttl := cfg.Session.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Issuer{
		key:    []byte(cfg.Session.Secret),
		issuer: cfg.AppName,
		cookie: cfg.Session.Name,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source, used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue signs a token for subject valid for the configured TTL.
func (i *Issuer) Issue(subject, role, tenantID string) (string, time.Time, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: i.key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", time.Time{}, err
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Claims: jwt.Claims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(expiresAt),
		},
		Role:     role,
		TenantID: tenantID,
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse verifies the signature and time claims of token.
func (i *Issuer) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims Claims
	if err := parsed.Claims(i.key, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := claims.ValidateWithLeeway(jwt.Expected{Issuer: i.issuer, Time: i.now().UTC()}, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &claims, nil
}

// Middleware authenticates the request from a bearer token or the session
// cookie and stores the claims on the context.
func (i *Issuer) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" && i.cookie != "" {
			token, _ = c.Cookie(i.cookie)
		}
		if token == "" {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}

		claims, err := i.Parse(token)
		if err != nil {
			_ = c.Error(errutil.Unauthorized("invalid or expired session", err))
			c.Abort()
			return
		}

		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// RequireRole rejects authenticated callers whose role is not listed.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := FromContext(c)
		if !ok {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}
		if !slices.Contains(roles, claims.Role) {
			_ = c.Error(errutil.Forbidden("insufficient role", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func FromContext(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(contextKeyClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// Subject returns the caller's subject, or "" when unauthenticated.
func Subject(c *gin.Context) string {
	if claims, ok := FromContext(c); ok {
		return claims.Subject
	}
	return ""
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
