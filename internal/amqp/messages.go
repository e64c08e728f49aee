package amqp

import (
	"encoding/json"
	"time"
)

// SubscriptionEventMessage is a lightweight notification that a subscription
// changed. Carries only the ID and version; the worker fetches the full
// subscription from the repository.
type SubscriptionEventMessage struct {
	SubscriptionID string    `json:"subscription_id"`
	MerchantKey    string    `json:"merchant_key"`
	Event          string    `json:"event"`
	Version        int64     `json:"version"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewSubscriptionEventMessage(id, merchantKey, event string, version int64) *SubscriptionEventMessage {
	return &SubscriptionEventMessage{
		SubscriptionID: id,
		MerchantKey:    merchantKey,
		Event:          event,
		Version:        version,
		Timestamp:      time.Now(),
	}
}

func (m *SubscriptionEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SubscriptionEventMessageFromJSON(data []byte) (*SubscriptionEventMessage, error) {
	var msg SubscriptionEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// RenewalReminderMessage tells the notification worker that a subscription
// renews soon.
type RenewalReminderMessage struct {
	SubscriptionID string    `json:"subscription_id"`
	MerchantKey    string    `json:"merchant_key"`
	Name           string    `json:"name"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	RenewsAt       time.Time `json:"renews_at"`
	Timestamp      time.Time `json:"timestamp"`
}

func (m *RenewalReminderMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RenewalReminderMessageFromJSON(data []byte) (*RenewalReminderMessage, error) {
	var msg RenewalReminderMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
