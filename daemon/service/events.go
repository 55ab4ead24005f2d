package service

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents different event classifications
type EventType int

const (
	EventSetupStored EventType = iota + 1
	EventProofStored
	EventProofVerified
	EventFinalizeFailed
	EventPendingCleared
	EventOwnerChanged
)

func (e EventType) String() string {
	switch e {
	case EventSetupStored:
		return "SETUP_STORED"
	case EventProofStored:
		return "PROOF_STORED"
	case EventProofVerified:
		return "PROOF_VERIFIED"
	case EventFinalizeFailed:
		return "FINALIZE_FAILED"
	case EventPendingCleared:
		return "PENDING_CLEARED"
	case EventOwnerChanged:
		return "OWNER_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the type by name in JSON event streams.
func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Event is a state change broadcast to subscribers. Program is nil for
// events that are not tied to a program.
type Event struct {
	Program   *uint32           `json:"program_id,omitempty"`
	EventType EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventSubscription represents an active event subscription
type EventSubscription struct {
	ID            string
	ProgramFilter *uint32
	Channel       chan *Event
}

// EventPublisher manages event subscriptions and broadcasting
type EventPublisher struct {
	subscriptions map[string]*EventSubscription
	mu            sync.RWMutex
	bufferSize    int
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(bufferSize int) *EventPublisher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &EventPublisher{
		subscriptions: make(map[string]*EventSubscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe creates a new event subscription. A nil filter receives every
// event.
func (p *EventPublisher) Subscribe(programFilter *uint32) *EventSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &EventSubscription{
		ID:            uuid.NewString(),
		ProgramFilter: programFilter,
		Channel:       make(chan *Event, p.bufferSize),
	}

	p.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe removes an event subscription
func (p *EventPublisher) Unsubscribe(subscriptionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, exists := p.subscriptions[subscriptionID]; exists {
		close(sub.Channel)
		delete(p.subscriptions, subscriptionID)
	}
}

// Publish broadcasts an event to all matching subscribers
func (p *EventPublisher) Publish(event *Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscriptions {
		// Program-less events reach every subscriber
		if sub.ProgramFilter != nil && event.Program != nil && *sub.ProgramFilter != *event.Program {
			continue
		}

		// Non-blocking send to prevent slow consumers from blocking
		select {
		case sub.Channel <- event:
		default:
		}
	}
}

// PublishSetupStored publishes a setup stored event
func (p *EventPublisher) PublishSetupStored(program uint32, size int, digest string) {
	p.Publish(&Event{
		Program:   &program,
		EventType: EventSetupStored,
		Timestamp: time.Now(),
		Message:   "Setup stored",
		Metadata: map[string]string{
			"size":   strconv.Itoa(size),
			"digest": digest,
		},
	})
}

// PublishProofStored publishes a proof stored event
func (p *EventPublisher) PublishProofStored(program, proofID uint32, size int, digest string) {
	p.Publish(&Event{
		Program:   &program,
		EventType: EventProofStored,
		Timestamp: time.Now(),
		Message:   "Proof stored",
		Metadata: map[string]string{
			"proof_id": strconv.FormatUint(uint64(proofID), 10),
			"size":     strconv.Itoa(size),
			"digest":   digest,
		},
	})
}

// PublishProofVerified publishes a verification outcome
func (p *EventPublisher) PublishProofVerified(program, proofID uint32, valid bool) {
	p.Publish(&Event{
		Program:   &program,
		EventType: EventProofVerified,
		Timestamp: time.Now(),
		Message:   "Proof verified",
		Metadata: map[string]string{
			"proof_id": strconv.FormatUint(uint64(proofID), 10),
			"valid":    strconv.FormatBool(valid),
		},
	})
}

// PublishFinalizeFailed publishes a failed finalize
func (p *EventPublisher) PublishFinalizeFailed(program uint32, kind string, errorMessage string) {
	p.Publish(&Event{
		Program:   &program,
		EventType: EventFinalizeFailed,
		Timestamp: time.Now(),
		Message:   errorMessage,
		Metadata: map[string]string{
			"kind": kind,
		},
	})
}

// PublishPendingCleared publishes a pending buffer clear
func (p *EventPublisher) PublishPendingCleared(reason string, removed int) {
	p.Publish(&Event{
		EventType: EventPendingCleared,
		Timestamp: time.Now(),
		Message:   "Pending chunks cleared",
		Metadata: map[string]string{
			"reason":  reason,
			"removed": strconv.Itoa(removed),
		},
	})
}

// PublishOwnerChanged publishes an owner change
func (p *EventPublisher) PublishOwnerChanged(owner string) {
	p.Publish(&Event{
		EventType: EventOwnerChanged,
		Timestamp: time.Now(),
		Message:   "Owner changed",
		Metadata: map[string]string{
			"owner": owner,
		},
	})
}

// GetSubscriptionCount returns the number of active subscriptions
func (p *EventPublisher) GetSubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}
