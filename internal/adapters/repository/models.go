package repository

import (
	"time"

	"gorm.io/datatypes"
)

// KillmailRaw is one ingested killmail, immutable after insert.
type KillmailRaw struct {
	KillmailID       int64          `gorm:"primaryKey;autoIncrement:false"`
	KillmailHash     string         `gorm:"size:64;not null"`
	KillTime         time.Time      `gorm:"not null;index"`
	Day              string         `gorm:"size:10;not null;index"`
	SolarSystemID    int64          `gorm:"not null;index"`
	VictimShipTypeID int64          `gorm:"not null;index"`
	FitSignature     string         `gorm:"size:32;not null;index"`
	Items            datatypes.JSON `gorm:"not null"`
	SlotCounts       datatypes.JSON `gorm:"not null"`
	Payload          datatypes.JSON `gorm:"not null"`
	IngestedAt       time.Time      `gorm:"not null;index"`
}

// TableName implements gorm's tabler.
func (KillmailRaw) TableName() string { return "killmail_raw" }

// FitAggregateDaily counts losses per day, ship and fit.
type FitAggregateDaily struct {
	Day          string    `gorm:"primaryKey;size:10"`
	ShipTypeID   int64     `gorm:"primaryKey;autoIncrement:false"`
	FitSignature string    `gorm:"primaryKey;size:32"`
	LossCount    int64     `gorm:"not null;default:0"`
	LastUpdated  time.Time `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (FitAggregateDaily) TableName() string { return "fit_aggregate_daily" }

// LocationAggregateDaily counts losses per day, ship, fit and system, with
// the system's constellation, region and zone copied in for filtering.
type LocationAggregateDaily struct {
	Day             string    `gorm:"primaryKey;size:10"`
	ShipTypeID      int64     `gorm:"primaryKey;autoIncrement:false"`
	FitSignature    string    `gorm:"primaryKey;size:32"`
	SolarSystemID   int64     `gorm:"primaryKey;autoIncrement:false"`
	ConstellationID int64     `gorm:"not null;default:0;index"`
	RegionID        int64     `gorm:"not null;default:0;index"`
	SecurityZone    string    `gorm:"size:16;not null;index"`
	LossCount       int64     `gorm:"not null;default:0"`
	LastUpdated     time.Time `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (LocationAggregateDaily) TableName() string { return "location_aggregate_daily" }

// ItemTypeRow caches catalog metadata for a type.
type ItemTypeRow struct {
	TypeID     int64     `gorm:"primaryKey;autoIncrement:false"`
	Name       string    `gorm:"size:255;not null;index"`
	GroupID    int64     `gorm:"not null;index"`
	CategoryID int64     `gorm:"not null;index"`
	FetchedAt  time.Time `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (ItemTypeRow) TableName() string { return "item_type" }

// ItemGroupRow caches the category of a type group.
type ItemGroupRow struct {
	GroupID    int64     `gorm:"primaryKey;autoIncrement:false"`
	Name       string    `gorm:"size:255;not null"`
	CategoryID int64     `gorm:"not null"`
	FetchedAt  time.Time `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (ItemGroupRow) TableName() string { return "item_group" }

// RegionRow is a stored region.
type RegionRow struct {
	RegionID int64  `gorm:"primaryKey;autoIncrement:false"`
	Name     string `gorm:"size:255;not null"`
}

// TableName implements gorm's tabler.
func (RegionRow) TableName() string { return "region" }

// ConstellationRow is a stored constellation.
type ConstellationRow struct {
	ConstellationID int64  `gorm:"primaryKey;autoIncrement:false"`
	Name            string `gorm:"size:255;not null"`
	RegionID        int64  `gorm:"not null;index"`
}

// TableName implements gorm's tabler.
func (ConstellationRow) TableName() string { return "constellation" }

// SolarSystemRow is a stored solar system.
type SolarSystemRow struct {
	SystemID        int64   `gorm:"primaryKey;autoIncrement:false"`
	Name            string  `gorm:"size:255;not null"`
	ConstellationID int64   `gorm:"not null;index"`
	SecurityStatus  float64 `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (SolarSystemRow) TableName() string { return "solar_system" }

func allModels() []any {
	return []any{
		&KillmailRaw{},
		&FitAggregateDaily{},
		&LocationAggregateDaily{},
		&ItemTypeRow{},
		&ItemGroupRow{},
		&RegionRow{},
		&ConstellationRow{},
		&SolarSystemRow{},
	}
}
