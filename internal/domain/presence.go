package domain

import "time"

// PresenceEvent is broadcast on every online/offline transition. It is relayed, never logged.
type PresenceEvent struct {
	Identity string    `json:"email"`
	Online   bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
	// Origin is the instance that observed the transition.
	Origin string `json:"origin,omitempty"`
}

// PresenceStatus is the last known status of an identity as mirrored outside the registry.
type PresenceStatus struct {
	Identity string    `json:"email"`
	Online   bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
	Sessions int       `json:"sessions"`
}
