package model

// User represents a user record as persisted in the profile hash.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    int64
	UpdatedAt    int64
}

// CreateUserRequest represents a user registration request.
type CreateUserRequest struct {
	Email           string `json:"email"            validate:"required,email"`
	Username        string `json:"username"         validate:"required,min=2,max=255"`
	Password        string `json:"password"         validate:"required,min=2,max=255"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// LoginRequest represents a user login request. Email carries either the
// registered email or the username.
type LoginRequest struct {
	Email    string `json:"email"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse represents an authentication response with an opaque token and user info.
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data safe for API responses (no sensitive fields).
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Response strips the password hash and attaches the id.
func (u *User) Response() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
