package capture

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vincentbai/browsetrace/internal/selector"
)

// Occurrence is a raw, unstamped signal from the page instrumentation or the
// network subscription.
type Occurrence struct {
	Type string `json:"type"`

	// click|input. Target is preferred; Selector carries a locator built elsewhere.
	Target   selector.Snapshot `json:"target,omitempty"`
	Selector string            `json:"selector,omitempty"`

	// input
	Value     *string `json:"value,omitempty"`
	Name      string  `json:"name,omitempty"`
	FieldID   string  `json:"fieldId,omitempty"`
	FieldType string  `json:"fieldType,omitempty"`
	Masked    bool    `json:"masked,omitempty"`

	// keydown
	Key string `json:"key,omitempty"`

	// network
	Method   string  `json:"method,omitempty"`
	URL      string  `json:"url,omitempty"`
	PostData *string `json:"postData,omitempty"`
	Status   int     `json:"status,omitempty"`
}

// Batch is a group of occurrences pushed over HTTP.
type Batch struct {
	Events []Occurrence `json:"events"`
}

var errMissingType = errors.New("occurrence has no type")

func DecodeOccurrence(data []byte) (Occurrence, error) {
	var occurrence Occurrence
	if err := json.Unmarshal(data, &occurrence); err != nil {
		return Occurrence{}, fmt.Errorf("failed to decode occurrence: %w", err)
	}
	if occurrence.Type == "" {
		return Occurrence{}, errMissingType
	}
	return occurrence, nil
}
