package models

import (
	"time"

	pkgmodels "github.com/ternarybob/revelo/pkg/models"
)

// Clearance stores the anti-bot clearance credentials harvested from a
// resolved challenge, keyed by origin so later renders to the same origin
// can skip the interstitial.
type Clearance struct {
	Origin     string             `json:"origin" badgerhold:"key"`
	Cookies    []pkgmodels.Cookie `json:"cookies"`
	UserAgent  string             `json:"user_agent"`
	IssuedAt   time.Time          `json:"issued_at"`
	LastSeenAt time.Time          `json:"last_seen_at"`
}

// Touch bumps LastSeenAt when a stored clearance is reused.
func (c *Clearance) Touch() {
	c.LastSeenAt = time.Now()
}
