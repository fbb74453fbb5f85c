package entity

import (
	"time"
)

// User представляет пользователя системы
type User struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Username    string     `json:"username" gorm:"size:100;not null;unique"`
	Email       string     `json:"email" gorm:"size:100"`
	Password    string     `json:"-" gorm:"size:100;not null"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Диапазон внешних идентификаторов, которые принимает беттинг-API
const (
	MinExternalID = 1
	MaxExternalID = 30
)

// ExternalAccount хранит учетные данные пользователя для внешнего беттинг-API.
// Секрет хранится только в зашифрованном виде. Активный аккаунт у пользователя
// один; при ротации старый деактивируется, а не удаляется.
type ExternalAccount struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	UserID          uint      `json:"user_id" gorm:"index:idx_external_accounts_user_id;not null"`
	ExternalID      int       `json:"external_id" gorm:"not null"` // в диапазоне [MinExternalID, MaxExternalID]
	SecretEncrypted string    `json:"-" gorm:"size:512;not null"`
	Active          bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LoginRequest запрос на аутентификацию пользователя
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse ответ на запрос аутентификации
type LoginResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Token    string `json:"token"`
}
