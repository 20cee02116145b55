// Package dto
package dto

type AdminDTO struct {
	ID          uint   `json:"id" example:"1"`
	UUID        string `json:"uuid" example:"f47ac10b-58cc-4372-a567-0e02b2c3d479"`
	Username    string `json:"username" example:"admin"`
	IsActive    *bool  `json:"is_active" example:"true"`
	CreatedAt   string `json:"created_at" example:"2024-01-15T10:30:00Z"`
	LastLoginAt string `json:"last_login_at,omitempty" example:"2024-01-15T10:30:00Z"`
}

type AdminSessionDTO struct {
	AccessToken string `json:"access_token" example:"jwt"`
	ExpiresIn   int    `json:"expires_in" example:"3600"`
	ExpiresAt   string `json:"expires_at" example:"2024-01-15T22:30:00Z"`
	TokenType   string `json:"token_type" example:"Bearer"`
}

type AdminLoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=255"`
	Password string `json:"password" validate:"required,min=8,max=100"`
}

type AdminLoginResponse struct {
	Admin   AdminDTO        `json:"admin"`
	Session AdminSessionDTO `json:"session"`
}
