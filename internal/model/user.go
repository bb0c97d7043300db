package model

import "time"

type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

const (
	RoleAdmin    = "ADMIN"
	RoleCustomer = "CUSTOMER"
)

// User is the stored identity record. PasswordHash never leaves the service.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PhoneNumber  string     `json:"phone_number"`
	Username     string     `json:"username"`
	FullName     string     `json:"full_name"`
	PasswordHash string     `json:"-"`
	Status       UserStatus `json:"status"`
	DateOfBirth  *time.Time `json:"dob,omitempty"`
	Gender       *string    `json:"gender,omitempty"`
	Bio          *string    `json:"bio,omitempty"`
	IsDeleted    bool       `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
	DeletedAt    *time.Time `json:"-"`
}

func (u User) Active() bool {
	return u.Status != UserStatusInactive
}

// NewUser carries the fields accepted at registration.
type NewUser struct {
	Email       string
	PhoneNumber string
	Username    string
	FullName    string
}

// Profile is the user-facing projection returned by GET /auth/profile.
type Profile struct {
	ID          string     `json:"id"`
	Username    string     `json:"userName"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phoneNumber"`
	DateOfBirth *time.Time `json:"dob,omitempty"`
	FullName    string     `json:"fullName"`
	Gender      *string    `json:"gender,omitempty"`
	Bio         *string    `json:"bio,omitempty"`
	Status      UserStatus `json:"status"`
	Roles       []string   `json:"roles"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

func NewProfile(u User, roles []string) Profile {
	if roles == nil {
		roles = []string{}
	}
	return Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		DateOfBirth: u.DateOfBirth,
		FullName:    u.FullName,
		Gender:      u.Gender,
		Bio:         u.Bio,
		Status:      u.Status,
		Roles:       roles,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
