// Package catalog is the DynamoDB-backed item store for published designs,
// their albums, and the campaign recipient list. It also allocates the
// monotonic identifiers new designs consume.
package catalog

import "fmt"

// DesignRecord is the catalog entry for one published design. It is written
// exactly once at the end of a publish run and never mutated afterward.
type DesignRecord struct {
	AlbumID     string `dynamodbav:"album_id"`
	NPage       string `dynamodbav:"n_page"` // 5-digit zero-padded, per album
	GSIPK       string `dynamodbav:"gsi_pk"` // constant, anchors the max-value indexes
	DesignID    int    `dynamodbav:"design_id"`
	NGlobalPage int    `dynamodbav:"n_global_page"`
	Title       string `dynamodbav:"title"`
	Description string `dynamodbav:"description,omitempty"`
	Notes       string `dynamodbav:"notes,omitempty"`
	Width       int    `dynamodbav:"width"`
	Height      int    `dynamodbav:"height"`
	NColors     int    `dynamodbav:"n_colors"`
	PinID       string `dynamodbav:"pin_id,omitempty"`
	CreatedAt   string `dynamodbav:"created_at"`
}

// AlbumRecord groups designs. Album ids are 4-digit strings ("0007").
// The pin board for an album comes from the CSV-backed board index at
// runtime, not from this record.
type AlbumRecord struct {
	AlbumID string `dynamodbav:"album_id"`
	Caption string `dynamodbav:"caption"`
	BoardID string `dynamodbav:"board_id,omitempty"`
}

// Recipient is one entry on the notification list. Addresses are stored
// lower-case and act as the partition key.
type Recipient struct {
	Email         string `dynamodbav:"email"`
	FirstName     string `dynamodbav:"first_name,omitempty"`
	RecordKey     string `dynamodbav:"record_key,omitempty"`
	CorrelationID string `dynamodbav:"correlation_id,omitempty"`
	Verified      bool   `dynamodbav:"verified"`
	Unsubscribed  bool   `dynamodbav:"unsubscribed"`
	LastSentAt    string `dynamodbav:"last_sent_at,omitempty"`
}

// NotFoundError reports a lookup that matched nothing.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// gsiAnchor is the constant partition value that lets the design_id and
// global-page indexes answer "current maximum" with one descending query.
const gsiAnchor = "DESIGN"
