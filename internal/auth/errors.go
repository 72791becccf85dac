package auth

import "errors"

// ErrInvalidToken indicates a missing, malformed or expired JWT.
var ErrInvalidToken = errors.New("auth: invalid token")
