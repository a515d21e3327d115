package sqlstore

import "time"

// flowRecord is the gorm model backing a session's Flow record, the
// relational analogue of badgerstore's "task:<session>:state" key.
type flowRecord struct {
	SessionID string `gorm:"primaryKey;column:session_id"`
	Data      []byte `gorm:"column:data"` // JSON-encoded flow.Flow
	UpdatedAt time.Time
}

func (flowRecord) TableName() string { return "flow_records" }

// requestRecord is the gorm model backing a session's outstanding
// RequestState rows, the relational analogue of badgerstore's
// "<session>:flow:request:<id>" key.
type requestRecord struct {
	SessionID string `gorm:"primaryKey;column:session_id"`
	RequestID uint64 `gorm:"primaryKey;column:request_id"`
	Data      []byte `gorm:"column:data"` // JSON-encoded flow.RequestState
}

func (requestRecord) TableName() string { return "flow_request_states" }

// responseRecord is the gorm model backing a request's response rows, the
// relational analogue of badgerstore's
// "<session>:flow:response:<reqid>:<respid>" key.
type responseRecord struct {
	SessionID  string `gorm:"primaryKey;column:session_id"`
	RequestID  uint64 `gorm:"primaryKey;column:request_id"`
	ResponseID int    `gorm:"primaryKey;column:response_id"`
	Data       []byte `gorm:"column:data"` // JSON-encoded flow.Message
}

func (responseRecord) TableName() string { return "flow_responses" }
