package domain

import (
	"time"

	"gorm.io/gorm"
)

// CatchStatus is the availability state of a posted catch.
type CatchStatus string

// Catch availability states.
const (
	CatchAvailable CatchStatus = "available"
	CatchSoldOut   CatchStatus = "sold_out"
	CatchExpired   CatchStatus = "expired"
)

// FishCatch is a seller's posted catch: the inbound event the subscription
// matcher evaluates. Coordinates are decimal degrees recorded where the
// catch was landed.
type FishCatch struct {
	ID             string         `json:"id"          gorm:"type:char(36);primaryKey"`
	SellerID       string         `json:"seller_id"   gorm:"type:char(36);not null;index:idx_catch_seller"`
	FishTypeID     string         `json:"fish_type_id" gorm:"type:char(36);not null;index"`
	Description    string         `json:"description" gorm:"type:varchar(500)"`
	PricePerKg     float64        `json:"price_per_kg" gorm:"not null"`
	QuantityKg     float64        `json:"quantity_kg" gorm:"not null"`
	Latitude       float64        `json:"latitude"    gorm:"not null"`
	Longitude      float64        `json:"longitude"   gorm:"not null"`
	AvailableUntil *time.Time     `json:"available_until,omitempty"`
	Status         CatchStatus    `json:"status"      gorm:"type:varchar(16);not null;default:'available';index"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for FishCatch.
func (FishCatch) TableName() string { return "fish_catches" }
