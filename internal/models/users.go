package models

import "time"

type User struct {
	UserBucket  int        `db:"user_bucket" json:"-"`
	UserID      string     `db:"user_id" json:"id"`
	PhoneNumber string     `db:"phone_number" json:"phoneNumber,omitempty"`
	Email       string     `db:"email" json:"email,omitempty"`
	FullName    string     `db:"full_name" json:"fullName,omitempty"`
	IsVerified  bool       `db:"is_verified" json:"isVerified"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
	LastLoginAt *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
}
