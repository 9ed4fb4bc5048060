package util

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "scanper-liff"

// SessionClaims identify a browser session.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// LoginClaims carry the OAuth state and OIDC nonce across the LINE Login redirect.
type LoginClaims struct {
	State string `json:"state"`
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// SignSession issues an HS256 token whose subject is the session id.
func SignSession(secret, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return sign(secret, claims)
}

// ValidateSession returns the session id carried by a token from SignSession.
func ValidateSession(tokenString, secret string) (string, error) {
	claims := &SessionClaims{}
	if err := validate(tokenString, secret, claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("session token has no subject")
	}
	return claims.Subject, nil
}

func SignLogin(secret, state, nonce string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := LoginClaims{
		State: state,
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return sign(secret, claims)
}

func ValidateLogin(tokenString, secret string) (*LoginClaims, error) {
	claims := &LoginClaims{}
	if err := validate(tokenString, secret, claims); err != nil {
		return nil, err
	}
	if claims.State == "" || claims.Nonce == "" {
		return nil, errors.New("login token is missing state or nonce")
	}
	return claims, nil
}

func sign(secret string, claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func validate(tokenString, secret string, claims jwt.Claims) error {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v (expected HMAC)", token.Header["alg"])
		}
		return []byte(secret), nil
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}
