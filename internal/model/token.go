package model

import "time"

const (
	ProviderDefault = "DEFAULT"

	PurposeRefresh       = "REFRESH"
	PurposeResetPassword = "RESET_PASSWORD"
)

// TokenKey identifies the single ledger slot a user has per provider and purpose.
type TokenKey struct {
	UserID   string
	Provider string
	Purpose  string
}

func RefreshKey(userID string) TokenKey {
	return TokenKey{UserID: userID, Provider: ProviderDefault, Purpose: PurposeRefresh}
}

func ResetPasswordKey(userID string) TokenKey {
	return TokenKey{UserID: userID, Provider: ProviderDefault, Purpose: PurposeResetPassword}
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Principal is what a validated access token says about its bearer.
type Principal struct {
	UserID    string
	Username  string
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}
