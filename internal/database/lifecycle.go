package database

import (
	"context"
	"time"

	"github.com/fatih/structs"
	"gorm.io/gorm"
	"moff.io/walletconnect-sign/pkg/errors"
)

type LifecycleEventType string

const (
	LifecycleEventTypeSessionSettled   = LifecycleEventType("SessionSettled")
	LifecycleEventTypeSessionUpdated   = LifecycleEventType("SessionUpdated")
	LifecycleEventTypeSessionExtended  = LifecycleEventType("SessionExtended")
	LifecycleEventTypeSessionDeleted   = LifecycleEventType("SessionDeleted")
	LifecycleEventTypeSessionRejected  = LifecycleEventType("SessionRejected")
	LifecycleEventTypePairingExpired   = LifecycleEventType("PairingExpired")
	LifecycleEventTypeRequestResponded = LifecycleEventType("RequestResponded")
)

// LifecycleEvent is the audit row of a session or pairing state change.
type LifecycleEvent struct {
	ID        int64              `gorm:"primaryKey"`
	Topic     string             `gorm:"type:varchar(64);index"`
	EventType LifecycleEventType `gorm:"type:varchar(64)"`
	Event     JSONBMap           `gorm:"type:jsonb"`
	EventTime time.Time          `gorm:"type:timestamptz"`
}

// NewLifecycleEvent flattens event, a struct or a pointer to one, into the
// row's jsonb column.
func NewLifecycleEvent(topic string, eventType LifecycleEventType, event interface{}, at time.Time) *LifecycleEvent {
	return &LifecycleEvent{
		Topic:     topic,
		EventType: eventType,
		Event:     structs.Map(event),
		EventTime: at,
	}
}

// LifecycleEvents writes audit rows.
type LifecycleEvents struct {
	db *gorm.DB
}

func NewLifecycleEvents(db *gorm.DB) *LifecycleEvents {
	return &LifecycleEvents{db: db}
}

func (l *LifecycleEvents) Save(ctx context.Context, e *LifecycleEvent) error {
	err := l.db.WithContext(ctx).Create(e).Error
	if IsDuplicateKeyErr(err) {
		return nil
	}
	return errors.WrapAndReport(err, "save lifecycle event")
}

// ByTopic returns the audit trail of a topic, oldest first.
func (l *LifecycleEvents) ByTopic(ctx context.Context, topic string) ([]*LifecycleEvent, error) {
	var events []*LifecycleEvent
	err := l.db.WithContext(ctx).Where("topic = ?", topic).Order("event_time, id").Find(&events).Error
	if err != nil {
		return nil, errors.WrapAndReport(err, "query lifecycle events")
	}
	return events, nil
}
