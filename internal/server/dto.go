package server

import (
	"encoding/json"
	"time"

	"github.com/roach88/idem/internal/store"
)

// Request payloads

type KeyRequest struct {
	Principal string `json:"principal,omitempty" maxLength:"256"`
	Resource  string `json:"resource,omitempty" maxLength:"256"`
	Action    string `json:"action" minLength:"1" maxLength:"128"`
	Payload   any    `json:"payload,omitempty"`
	Window    string `json:"window,omitempty" example:"30m" doc:"Go duration; defaults to the server's key window"`
	At        *int64 `json:"at,omitempty" doc:"Evaluation time in epoch milliseconds; defaults to now"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

type KeyResponse struct {
	Key       string `json:"key" example:"idem_pay_3cb86006468ad039"`
	Canonical string `json:"canonical" doc:"Canonical JSON of the payload"`
	Bucket    int64  `json:"bucket"`
	Window    string `json:"window"`
}

type RecordResponse struct {
	Key       string           `json:"key"`
	Status    string           `json:"status" enum:"pending,success,error"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *store.ErrorInfo `json:"error,omitempty"`
	Attempt   string           `json:"attempt,omitempty"`
}

type SweepResponse struct {
	Removed int `json:"removed"`
}

type InFlightResponse struct {
	Keys []string `json:"keys"`
}

func recordResponse(rec store.Record) RecordResponse {
	return RecordResponse{
		Key:       rec.Key,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt.UTC(),
		ExpiresAt: rec.ExpiresAt.UTC(),
		Result:    rec.Result,
		Error:     rec.Error,
		Attempt:   rec.Attempt,
	}
}
