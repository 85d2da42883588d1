package ratelimit

import (
	"fmt"
	"time"
)

// Categories guarded by the service. Each one is an independent counter space.
const (
	CategoryLetter  = "letter"
	CategoryPrayer  = "prayer"
	CategoryWitness = "witness"
	CategoryContact = "contact"
)

// Rule configures one category.
type Rule struct {
	Max    int           `yaml:"max_requests" json:"maxRequests"`
	Window time.Duration `yaml:"window" json:"-"`
	// FailClosed denies requests when the backing store errors. The
	// default is to let them through.
	FailClosed bool `yaml:"fail_closed" json:"failClosed"`
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Max, r.Window)
}

// DefaultRules returns the limits the site ships with.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		CategoryLetter:  {Max: 5, Window: time.Hour},
		CategoryPrayer:  {Max: 5, Window: 15 * time.Minute},
		CategoryWitness: {Max: 1, Window: 24 * time.Hour},
		CategoryContact: {Max: 3, Window: time.Hour},
	}
}
