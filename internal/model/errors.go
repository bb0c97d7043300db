package model

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrRoleNotFound = errors.New("role not found")

	ErrTokenNotFound = errors.New("token not found")
)
