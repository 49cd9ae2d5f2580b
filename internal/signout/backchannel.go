package signout

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// BackChannelLogoutEvent is the events member of an OIDC logout token.
const BackChannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

var _ Notifier = (*BackChannelNotifier)(nil)

// LogoutClaims are the claims of an OIDC back-channel logout token.
type LogoutClaims struct {
	jwt.RegisteredClaims
	SessionID string                    `json:"sid,omitempty"`
	Events    map[string]map[string]any `json:"events"`
}

// BackChannelNotifier POSTs a signed logout_token to each endpoint.
type BackChannelNotifier struct {
	client   *retry.Client
	issuer   string
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewBackChannelNotifier returns a notifier that signs logout tokens with
// secret (HS256) and delivers them with client.
func NewBackChannelNotifier(
	client *retry.Client,
	issuer string,
	secret []byte,
	lifetime time.Duration,
) *BackChannelNotifier {
	return &BackChannelNotifier{
		client:   client,
		issuer:   issuer,
		secret:   secret,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// LogoutToken builds the signed token for one endpoint.
func (b *BackChannelNotifier) LogoutToken(n *Notification, ep Endpoint) (string, error) {
	now := b.now()
	claims := LogoutClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   n.Subject,
			Audience:  jwt.ClaimStrings{ep.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.lifetime)),
			ID:        uuid.NewString(),
		},
		Events: map[string]map[string]any{BackChannelLogoutEvent: {}},
	}
	if ep.SessionRequired || n.Subject == "" {
		claims.SessionID = n.SessionID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["typ"] = "logout+jwt"
	signed, err := token.SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("sign logout token: %w", err)
	}
	return signed, nil
}

func (b *BackChannelNotifier) Notify(ctx context.Context, n *Notification, ep Endpoint) error {
	token, err := b.LogoutToken(n, ep)
	if err != nil {
		return err
	}

	form := url.Values{"logout_token": {token}}.Encode()
	resp, err := b.client.Post(
		ctx,
		ep.URI,
		retry.WithBody("application/x-www-form-urlencoded", strings.NewReader(form)),
	)
	if err != nil {
		return fmt.Errorf("post logout token to %s: %w", ep.ClientID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("logout endpoint of %s returned HTTP %d", ep.ClientID, resp.StatusCode)
	}
	return nil
}
