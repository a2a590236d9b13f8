package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingIdentityClaim indicates a session token carried no user identifier.
var ErrMissingIdentityClaim = errors.New("auth: token carries no user identifier")

var identityClaimKeys = []string{"user_id", "userId", "sub", "id"}

// UserIDFromToken reads the user identifier of a session token without
// verifying its signature. Clients hold no signing key; the server still
// validates every request.
func UserIDFromToken(tokenString string) (string, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return "", ErrMissingSessionToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	for _, key := range identityClaimKeys {
		if value := claimString(claims[key]); value != "" {
			return value, nil
		}
	}
	return "", ErrMissingIdentityClaim
}

func claimString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return ""
	}
}
