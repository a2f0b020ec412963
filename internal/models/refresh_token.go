package models

import "time"

// RefreshToken stores the one-way hash of an issued refresh token. The raw
// token value never touches the database. Family groups every token descended
// from one login, so reuse of a rotated token can revoke the whole lineage.
type RefreshToken struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	TokenHash   string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	Family      string     `gorm:"index;size:36;not null" json:"-"`
	IsRevoked   bool       `gorm:"index;default:false" json:"is_revoked"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt   time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedByIP string     `gorm:"size:64" json:"created_by_ip,omitempty"`
	UserAgent   string     `gorm:"size:255" json:"user_agent,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (RefreshToken) TableName() string { return "refresh_tokens" }
