// Package invalidation describes the Strava webhook events that make cached
// feeds stale.
package invalidation

import (
	"fmt"
	"time"
)

const (
	ObjectActivity = "activity"
	ObjectAthlete  = "athlete"

	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"
)

// Event is a push subscription event as delivered by the Strava webhook.
type Event struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates,omitempty"`
}

func (e Event) Time() time.Time { return time.Unix(e.EventTime, 0).UTC() }

func (e Event) Validate() error {
	switch e.ObjectType {
	case ObjectActivity, ObjectAthlete:
	default:
		return fmt.Errorf("object_type must be activity|athlete (got %q)", e.ObjectType)
	}
	switch e.AspectType {
	case AspectCreate, AspectUpdate, AspectDelete:
	default:
		return fmt.Errorf("aspect_type must be create|update|delete (got %q)", e.AspectType)
	}
	if e.ObjectID <= 0 {
		return fmt.Errorf("object_id is required")
	}
	if e.OwnerID <= 0 {
		return fmt.Errorf("owner_id is required")
	}
	if e.EventTime <= 0 {
		return fmt.Errorf("event_time is required")
	}
	return nil
}

// Deauthorized reports whether the athlete revoked access to the app.
func (e Event) Deauthorized() bool {
	return e.ObjectType == ObjectAthlete && e.Updates["authorized"] == "false"
}
