package model

import "time"

// PushSubscription holds the information for an admin dashboard's browser
// push subscription. Every registered dashboard receives a push summary on
// each accepted booking mutation.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
