package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authorizer resolves a websocket handshake credential to a user id.
type Authorizer interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// jwtAuthorizer validates HS256 session tokens issued by the VyaparMitra
// auth service. The subject claim is the user id.
type jwtAuthorizer struct {
	signingSecret []byte
}

func NewJWTAuthorizer(signingSecret string) Authorizer {
	signingSecret = strings.TrimSpace(signingSecret)
	if signingSecret == "" {
		return nil
	}
	return &jwtAuthorizer{signingSecret: []byte(signingSecret)}
}

func (a *jwtAuthorizer) Authenticate(_ context.Context, accessToken string) (string, error) {
	if a == nil || len(a.signingSecret) == 0 {
		return "", errors.New("auth is not configured")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", errors.New("access token is required")
	}

	token, err := jwt.Parse(accessToken, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return a.signingSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read token subject: %w", err)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token has empty subject")
	}
	return subject, nil
}

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
