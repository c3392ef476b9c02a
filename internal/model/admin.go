package model

import "time"

// AdminLoginRequest is the payload for operator authentication.
type AdminLoginRequest struct {
	Key string `json:"key" binding:"required,min=8,max=256"`
}

// AdminLoginResponse is returned after a successful operator login.
type AdminLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
