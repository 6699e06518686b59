package model

// LoginRequest carries the admin credentials
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the session token
type LoginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// AuthCheckResponse reports whether the presented token is valid
type AuthCheckResponse struct {
	Email         string `json:"email"`
	Authenticated bool   `json:"authenticated"`
}

// HashPasswordRequest asks for a bcrypt hash of a password
type HashPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// HashPasswordResponse returns the generated hash
type HashPasswordResponse struct {
	Hash string `json:"hash"`
}
