package user

import "time"

// User mirrors the users table created by db/migrations. Only one active row
// may hold a given email; deactivated rows keep theirs.
type User struct {
	ID           int64     `gorm:"column:user_id;primaryKey"`
	Name         string    `gorm:"column:name;not null"`
	Email        string    `gorm:"column:email;not null;index:users_active_email_key,unique,where:is_active = true"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	Role         string    `gorm:"column:role;not null;default:team_member"`
	HourlyRate   float64   `gorm:"column:hourly_rate;not null;default:0"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true"`
	TokenVersion int       `gorm:"column:token_version;not null;default:0"`
	Version      int       `gorm:"column:version;not null;default:1"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (User) TableName() string {
	return "users"
}
