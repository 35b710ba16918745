package amqp

import (
	"encoding/json"
	"time"

	"cobranca/internal/core"
)

// LedgerEntryMessage announces a committed ledger entry. The worker loads the
// full entry from the store by EntryID; the other fields are for logging and
// routing only.
type LedgerEntryMessage struct {
	EntryID   string         `json:"entry_id"`
	DebtorID  string         `json:"debtor_id"`
	Type      core.EntryType `json:"type"`
	Amount    float64        `json:"amount"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewLedgerEntryMessage(e core.HistoryEntry) *LedgerEntryMessage {
	return &LedgerEntryMessage{
		EntryID:   e.ID,
		DebtorID:  e.DebtorID,
		Type:      e.Type,
		Amount:    e.Amount,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEntryMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEntryMessageFromJSON decodes a message body.
func LedgerEntryMessageFromJSON(data []byte) (*LedgerEntryMessage, error) {
	var msg LedgerEntryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
