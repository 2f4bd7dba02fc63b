// Package apperr defines the error taxonomy shared by the calendar service.
// Every error is a go-errors envelope carrying a category, an HTTP status and a text code.
package apperr

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeAuthExchange   = "AUTH_EXCHANGE_FAILED"
	CodeAuthRequired   = "AUTH_REQUIRED"
	CodeRemoteProvider = "REMOTE_PROVIDER_ERROR"
	CodeBadInput       = "BAD_INPUT"
	CodeInternal       = "INTERNAL_ERROR"
)

func newError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return newError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// Configuration reports a missing or invalid provider configuration.
func Configuration(source error, message string) error {
	return wrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, CodeConfiguration, nil)
}

// AuthExchange reports a failed authorization code exchange.
func AuthExchange(source error, message string) error {
	return wrapError(source, goerrors.CategoryAuth, message, http.StatusBadRequest, CodeAuthExchange, nil)
}

// AuthRequired reports that the user has no usable credentials.
func AuthRequired(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryAuth, http.StatusUnauthorized, CodeAuthRequired, metadata)
}

// RemoteProvider reports a request rejected by, or failed against, the remote provider.
func RemoteProvider(source error, message string, metadata map[string]any) error {
	return wrapError(source, goerrors.CategoryExternal, message, http.StatusBadGateway, CodeRemoteProvider, metadata)
}

func BadInput(message string, metadata map[string]any) error {
	return newError(message, goerrors.CategoryBadInput, http.StatusUnprocessableEntity, CodeBadInput, metadata)
}

func Internal(source error, message string) error {
	return wrapError(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, CodeInternal, nil)
}

// Envelope returns err as a go-errors envelope, mapping plain errors to internal errors.
func Envelope(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Code == 0 {
			rich.Code = http.StatusInternalServerError
		}
		if strings.TrimSpace(rich.TextCode) == "" {
			rich.TextCode = CodeInternal
		}
		return rich
	}
	return newError(err.Error(), goerrors.CategoryInternal, http.StatusInternalServerError, CodeInternal, nil)
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, textCode string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == textCode
}

func IsAuthRequired(err error) bool   { return HasCode(err, CodeAuthRequired) }
func IsAuthExchange(err error) bool   { return HasCode(err, CodeAuthExchange) }
func IsRemoteProvider(err error) bool { return HasCode(err, CodeRemoteProvider) }
func IsConfiguration(err error) bool  { return HasCode(err, CodeConfiguration) }
func IsBadInput(err error) bool       { return HasCode(err, CodeBadInput) }
