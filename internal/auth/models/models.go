package models

// Credentials is the body of the credential endpoint request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Token is the credential endpoint response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// User is the profile returned for the bearer of a valid token.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	IsActive bool   `json:"is_active"`
}
