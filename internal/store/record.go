package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a request record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a settled status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// ErrorInfo is the persisted form of an operation failure.
type ErrorInfo struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Record is the persisted state of one logical request.
//
// Lifecycle: created pending, then settled exactly once as success (with
// Result) or error (with Error). A retry after an error starts a new pending
// phase with a fresh Attempt and CreatedAt.
type Record struct {
	Key       string
	Status    Status
	CreatedAt time.Time
	ExpiresAt time.Time
	Result    json.RawMessage
	Error     *ErrorInfo
	Attempt   string
}

// Expired reports whether the record is past its retention at now.
// A record is still live at the exact instant of ExpiresAt.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

type wireRecord struct {
	Key       string          `json:"key"`
	Status    Status          `json:"status"`
	CreatedAt int64           `json:"createdAt"`
	ExpiresAt int64           `json:"expiresAt"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	Attempt   string          `json:"attempt,omitempty"`
}

// MarshalJSON encodes the record in the persisted wire shape.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRecord{
		Key:       r.Key,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UnixMilli(),
		ExpiresAt: r.ExpiresAt.UnixMilli(),
		Result:    r.Result,
		Error:     r.Error,
		Attempt:   r.Attempt,
	})
}

// UnmarshalJSON decodes the persisted wire shape.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Status.Valid() {
		return fmt.Errorf("unknown record status %q", w.Status)
	}
	*r = Record{
		Key:       w.Key,
		Status:    w.Status,
		CreatedAt: time.UnixMilli(w.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(w.ExpiresAt).UTC(),
		Result:    w.Result,
		Error:     w.Error,
		Attempt:   w.Attempt,
	}
	return nil
}

// Encode serializes a record for backends that store opaque bytes.
func Encode(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.Key, err)
	}
	return data, nil
}

// Decode parses bytes written by Encode.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}
