package api

import (
	"errors"
	"strings"
	"unsafe"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerTokenFromString returns the compact JWT carried by an Authorization
// header value without copying it.
func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return nil, errBadAuthorization
	}
	token := trimmed[len(bearerPrefix):]
	if strings.Count(token, ".") != 2 {
		return nil, errBadAuthorization
	}
	return readOnlyBytes(token), nil
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
