package user

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleTalent   Role = "talent"
	RolePromoter Role = "promoter"
)

type Profile struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"max=255"`
	Role     Role   `json:"role" validate:"required,oneof=talent promoter"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UpdateProfileRequest struct {
	FullName string `json:"full_name" validate:"required,max=255"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ID          uuid.UUID `json:"id"`
	FullName    string    `json:"full_name"`
	Role        Role      `json:"role"`
}
