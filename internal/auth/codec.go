package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// tokenBlob is the serialized form stored in a credential record.
type tokenBlob struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

func encodeToken(token *oauth2.Token, scopes []string) (string, error) {
	if token == nil {
		return "", fmt.Errorf("token is nil")
	}
	data, err := json.Marshal(tokenBlob{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry.UTC(),
		Scopes:       append([]string(nil), scopes...),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}
	return string(data), nil
}

func decodeToken(blob string) (*oauth2.Token, []string, error) {
	if strings.TrimSpace(blob) == "" {
		return nil, nil, fmt.Errorf("token blob is empty")
	}
	var decoded tokenBlob
	if err := json.Unmarshal([]byte(blob), &decoded); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	token := &oauth2.Token{
		AccessToken:  decoded.AccessToken,
		TokenType:    decoded.TokenType,
		RefreshToken: decoded.RefreshToken,
		Expiry:       decoded.Expiry,
	}
	return token, decoded.Scopes, nil
}

// grantedScopes reads the space separated "scope" field of a token response.
func grantedScopes(token *oauth2.Token, fallback []string) []string {
	if token != nil {
		if raw, ok := token.Extra("scope").(string); ok && strings.TrimSpace(raw) != "" {
			return strings.Fields(raw)
		}
	}
	return append([]string(nil), fallback...)
}
