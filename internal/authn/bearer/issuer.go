package bearer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-authgate/authcore/internal/authn"
	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token is a signed access token.
type Token struct {
	AccessToken string
	ID          string
	ExpiresAt   time.Time
}

// TokenIssuer signs access tokens accepted by Handler and records each one as
// a reference grant so it can be revoked.
type TokenIssuer struct {
	secret []byte
	issuer string
	grants core.GrantStore
	now    func() time.Time
}

// NewTokenIssuer returns an issuer. grants may be nil, in which case tokens
// are not recorded.
func NewTokenIssuer(secret []byte, issuer string, grants core.GrantStore) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer, grants: grants, now: time.Now}
}

// Issue signs a token for p on behalf of clientID.
func (i *TokenIssuer) Issue(
	ctx context.Context,
	p *authn.Principal,
	clientID string,
	scopes []string,
	lifetime time.Duration,
) (*Token, error) {
	now := i.now()
	exp := now.Add(lifetime)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   p.Subject(),
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		SessionID: p.SessionID(),
		ClientID:  clientID,
		Scope:     strings.Join(scopes, " "),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	if i.grants != nil {
		err := i.grants.StoreGrant(ctx, &models.PersistedGrant{
			Key:          claims.ID,
			Type:         models.GrantTypeReferenceToken,
			SubjectID:    claims.Subject,
			SessionID:    claims.SessionID,
			ClientID:     clientID,
			CreationTime: now,
			Expiration:   &exp,
		})
		if err != nil {
			return nil, fmt.Errorf("store token grant: %w", err)
		}
	}

	return &Token{AccessToken: signed, ID: claims.ID, ExpiresAt: exp}, nil
}
