package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ReceiptScanMessage asks the worker to parse one stored receipt scan. The
// worker loads the image and scan state from storage.
type ReceiptScanMessage struct {
	ScanID    string    `json:"scan_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReceiptScanMessage(scanID, userID string) *ReceiptScanMessage {
	return &ReceiptScanMessage{
		ScanID:    scanID,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func (m *ReceiptScanMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ReceiptScanMessageFromJSON(data []byte) (*ReceiptScanMessage, error) {
	var msg ReceiptScanMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ScanID == "" || msg.UserID == "" {
		return nil, errors.New("receipt scan message needs scan_id and user_id")
	}
	return &msg, nil
}
