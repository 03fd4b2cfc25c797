package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Rooms []PushSubscriptionRoom `gorm:"foreignKey:Endpoint;constraint:OnDelete:CASCADE"`
}

// PushSubscriptionRoom maps a subscription to a room whose alerts it receives.
type PushSubscriptionRoom struct {
	Endpoint string `gorm:"primaryKey"`
	RoomID   string `gorm:"primaryKey;size:64;index"`
}
