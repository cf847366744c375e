// Package auth はWebSocketハンドシェイク時の本人確認を行います
// 資格情報はCookie・Authorizationヘッダー・tokenクエリの順に探します
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated は資格情報がない、または無効な場合のエラーです
var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityProvider は資格情報をユーザーIDに解決します
// 該当しない場合は ok=false を返し、ストア障害のみerrを返します
type IdentityProvider interface {
	Resolve(ctx context.Context, credential string) (userId string, ok bool, err error)
}

// SessionStore はセッショントークンの参照です
type SessionStore interface {
	GetSession(ctx context.Context, token string) (string, bool, error)
}

// Resolver はリクエストから資格情報を取り出し、登録順にプロバイダーへ問い合わせます
type Resolver struct {
	cookie    string
	providers []IdentityProvider
}

func NewResolver(cookieName string, providers ...IdentityProvider) *Resolver {
	return &Resolver{cookie: cookieName, providers: providers}
}

// Authenticate はリクエストのユーザーIDを返します
func (r *Resolver) Authenticate(req *http.Request) (string, error) {
	cred := r.credential(req)
	if cred == "" {
		return "", ErrUnauthenticated
	}
	return r.ResolveSession(req.Context(), cred)
}

// ResolveSession は生の資格情報をユーザーIDに解決します
func (r *Resolver) ResolveSession(ctx context.Context, credential string) (string, error) {
	for _, p := range r.providers {
		userId, ok, err := p.Resolve(ctx, credential)
		if err != nil {
			return "", fmt.Errorf("failed to resolve session: %w", err)
		}
		if ok && userId != "" {
			return userId, nil
		}
	}
	return "", ErrUnauthenticated
}

func (r *Resolver) credential(req *http.Request) string {
	if r.cookie != "" {
		if c, err := req.Cookie(r.cookie); err == nil && c.Value != "" {
			return c.Value
		}
	}
	if h := req.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	// ブラウザのWebSocket APIはヘッダーを付けられないためクエリも受け付ける
	return strings.TrimSpace(req.URL.Query().Get("token"))
}

// SessionProvider はRedisのセッションを参照します
type SessionProvider struct {
	store SessionStore
}

func NewSessionProvider(s SessionStore) *SessionProvider {
	return &SessionProvider{store: s}
}

func (p *SessionProvider) Resolve(ctx context.Context, credential string) (string, bool, error) {
	return p.store.GetSession(ctx, credential)
}

// JWTProvider はHS256で署名されたトークンのsubをユーザーIDとして扱います
type JWTProvider struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Resolve は署名・有効期限が正しいトークンのみ受け付けます
// JWTでない資格情報は他のプロバイダーに委ねるため ok=false を返します
func (p *JWTProvider) Resolve(_ context.Context, credential string) (string, bool, error) {
	if strings.Count(credential, ".") != 2 {
		return "", false, nil
	}
	claims := &jwt.RegisteredClaims{}
	_, err := p.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		return "", false, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false, nil
	}
	return sub, true, nil
}

// Sign はテストや開発用にトークンを発行します
func (p *JWTProvider) Sign(claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
