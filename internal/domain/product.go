package domain

import "time"

// ProductStatus enumerates inventory states.
type ProductStatus string

const (
	ProductStatusAvailable   ProductStatus = "available"
	ProductStatusAssigned    ProductStatus = "assigned"
	ProductStatusMaintenance ProductStatus = "maintenance"
	ProductStatusDamaged     ProductStatus = "damaged"
)

// Product is a tracked inventory item.
type Product struct {
	ID           string
	CompanyID    *string
	CategoryID   *string
	CategoryName string
	Name         string
	Status       ProductStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
