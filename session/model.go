package session

// RecordVersion is the current schema version written by [Store.Save].
const RecordVersion = 1

// Record is the cached view of a reconciled session.
type Record struct {
	Version     int    `json:"v"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	ExternalUID string `json:"external_uid"`
	Verified    bool   `json:"verified"`

	// Dev marks a locally trusted development session. Only honored when the
	// client is configured to allow it.
	Dev bool `json:"dev,omitempty"`

	SavedAt int64 `json:"saved_at"`
}
