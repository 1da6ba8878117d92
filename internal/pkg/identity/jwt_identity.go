package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedsync/internal/domain/feed/model"
	"feedsync/pkg/utils"
)

// JWTIdentity holds the signed-in user decoded from an HS256 token.
// CurrentIdentity returns nil once signed out or after the token expires.
type JWTIdentity struct {
	secret string
	now    func() time.Time

	mu     sync.RWMutex
	claims *utils.Claims
}

func NewJWTIdentity(secret string) *JWTIdentity {
	return &JWTIdentity{secret: secret, now: time.Now}
}

// SignIn validates token and makes its subject the current identity.
func (p *JWTIdentity) SignIn(token string) (*model.Identity, error) {
	claims, err := utils.ParseToken(p.secret, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}

	p.mu.Lock()
	p.claims = claims
	p.mu.Unlock()
	return identityOf(claims), nil
}

func (p *JWTIdentity) SignOut() {
	p.mu.Lock()
	p.claims = nil
	p.mu.Unlock()
}

func (p *JWTIdentity) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	claims := p.claims
	p.mu.RUnlock()

	if claims == nil {
		return nil, nil
	}
	if claims.ExpiresAt != nil && !p.now().Before(claims.ExpiresAt.Time) {
		return nil, nil
	}
	return identityOf(claims), nil
}

func identityOf(c *utils.Claims) *model.Identity {
	return &model.Identity{
		ID:        c.UserID,
		Email:     c.Email,
		Name:      c.Name,
		AvatarURI: c.AvatarURL,
	}
}
