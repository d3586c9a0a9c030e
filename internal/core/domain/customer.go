package domain

import "time"

// Customer is keyed by phone number for order placement.
type Customer struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Address   string
	City      string
	CreatedAt time.Time
}

// FallbackEmail is stored when checkout omits an email address.
func FallbackEmail(phone string) string {
	return phone + "@example.com"
}
