// Package progress defines the events emitted while mirroring remote items.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/hn-mirror/internal/item"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart   Stage = "CRAWL_START"
	StageCrawlDone    Stage = "CRAWL_DONE"
	StageFetchDone    Stage = "FETCH_DONE"
	StageFetchError   Stage = "FETCH_ERROR"
	StageRefreshError Stage = "REFRESH_ERROR"
)

// Trigger records why a crawl was started.
type Trigger string

// Supported crawl triggers.
const (
	TriggerPeriodic Trigger = "periodic"
	TriggerOnDemand Trigger = "on_demand"
)

// Event captures a single milestone of a crawl or refresh cycle.
type Event struct {
	// CrawlID identifies one crawl invocation (or refresh cycle) in 16-byte UUID form.
	CrawlID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage   Stage
	Trigger Trigger
	// ItemID is set on fetch events.
	ItemID item.ID
	// Fetched and Failed carry crawl totals on StageCrawlDone.
	Fetched int64
	Failed  int64
	// Dur is fetch latency on fetch events and wall time on StageCrawlDone.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == [16]byte{} {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageFetchDone, StageRefreshError:
	case StageFetchError:
		if e.Note == "" {
			return errors.New("fetch error requires note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	switch e.Trigger {
	case TriggerPeriodic, TriggerOnDemand:
	default:
		return fmt.Errorf("unknown trigger %q", e.Trigger)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// CrawlUUID converts the binary crawl ID to uuid.UUID.
func (e Event) CrawlUUID() uuid.UUID {
	return uuid.UUID(e.CrawlID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
