package model

import "time"

// Tenant represents a registered namespace
type Tenant struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
