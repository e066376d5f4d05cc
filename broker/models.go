package broker

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a broker account. Only active brokers are
// eligible to receive offers.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// Candidate is a broker eligible to receive distribution offers.
type Candidate struct {
	ID             string
	Name           string
	ContactPhone   string
	Status         Status
	Rating         float64
	CompletedCount int
	// PropertyType is the declared affinity; "all" matches every target type.
	PropertyType string
	Regions      []string
	Providers    []string
	CreatedAt    time.Time
}

// Contactable reports whether the candidate has a usable contact address.
func (c Candidate) Contactable() bool {
	return strings.TrimSpace(c.ContactPhone) != ""
}

// HasRegion reports whether the candidate declared the given geographic tag.
func (c Candidate) HasRegion(region string) bool {
	for _, r := range c.Regions {
		if strings.EqualFold(r, region) {
			return true
		}
	}
	return false
}

// HasProvider reports whether the candidate declared affinity with the given
// lead provider.
func (c Candidate) HasProvider(provider string) bool {
	for _, p := range c.Providers {
		if strings.EqualFold(p, provider) {
			return true
		}
	}
	return false
}

// MatchesPropertyType reports whether the candidate covers the target's
// property type.
func (c Candidate) MatchesPropertyType(propertyType string) bool {
	return c.PropertyType == "all" || strings.EqualFold(c.PropertyType, propertyType)
}

// NormalizePhone reduces a contact address to bare digits so numbers stored
// as "+55 (11) 99999-0000" and "5511999990000" compare equal.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
