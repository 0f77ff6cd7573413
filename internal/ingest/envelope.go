package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rpattn/featuremart/internal/domain"

	"github.com/google/uuid"
)

// PushEnvelope is the wrapper a Pub/Sub push subscription delivers.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// PushMessage carries the base64 payload plus broker metadata.
type PushMessage struct {
	Data        string            `json:"data"`
	MessageID   string            `json:"messageId"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime time.Time         `json:"publishTime"`
}

// Delivery is one decoded push delivery.
type Delivery struct {
	MessageID    string
	Subscription string
	Records      []domain.RawRecord
}

// Source names where the delivery came from, for the job log.
func (d Delivery) Source() string {
	if d.Subscription != "" {
		return d.Subscription
	}
	return "pubsub-push"
}

// Decode parses a push body. The payload is standard base64 wrapping JSON:
// either a single record object or an array of them. A missing messageId
// gets a generated UUID so the sink ledger still has a key; redeliveries of
// such a message are not deduplicated. Even on error the returned Delivery
// carries a usable MessageID so the rejection can be logged.
func Decode(body []byte) (Delivery, error) {
	var envelope PushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Delivery{MessageID: uuid.New().String()}, fmt.Errorf("failed to decode push envelope: %w", err)
	}

	delivery := Delivery{
		MessageID:    envelope.Message.MessageID,
		Subscription: envelope.Subscription,
	}
	if delivery.MessageID == "" {
		delivery.MessageID = uuid.New().String()
	}

	payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return delivery, fmt.Errorf("failed to decode message data: %w", err)
	}

	records, err := decodeRecords(payload)
	if err != nil {
		return delivery, err
	}
	delivery.Records = records
	return delivery, nil
}

// decodeRecords accepts either a JSON array of records or one record object.
func decodeRecords(payload []byte) ([]domain.RawRecord, error) {
	var records []domain.RawRecord
	if err := json.Unmarshal(payload, &records); err == nil {
		return records, nil
	}

	var single domain.RawRecord
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, fmt.Errorf("failed to decode message payload: %w", err)
	}
	return []domain.RawRecord{single}, nil
}
