package specs

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyPayload = errors.New("empty payload")
	ErrNoUpdates    = errors.New("payload has no updates")
)

// ParseSpecs decodes a download_config_specs payload.
func ParseSpecs(raw string) (*SpecsResponse, error) {
	if raw == "" {
		return nil, ErrEmptyPayload
	}
	var resp SpecsResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode specs payload: %w", err)
	}
	if !resp.HasUpdates {
		return nil, ErrNoUpdates
	}
	return &resp, nil
}

// ParseInitialize decodes an initialize payload.
func ParseInitialize(raw string) (*InitializeResponse, error) {
	if raw == "" {
		return nil, ErrEmptyPayload
	}
	var resp InitializeResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("decode initialize payload: %w", err)
	}
	if !resp.HasUpdates {
		return nil, ErrNoUpdates
	}
	return &resp, nil
}

// ExtractLCUT reads the snapshot time of a payload without decoding the rest of it.
// Payloads that cannot be read report zero.
func ExtractLCUT(raw string) int64 {
	if raw == "" {
		return 0
	}
	var head struct {
		Time int64 `json:"time"`
	}
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return 0
	}
	return head.Time
}

// HasUpdates reports whether the payload declares new values.
func HasUpdates(raw string) bool {
	if raw == "" {
		return false
	}
	var head struct {
		HasUpdates bool `json:"has_updates"`
	}
	if err := json.Unmarshal([]byte(raw), &head); err != nil {
		return false
	}
	return head.HasUpdates
}
