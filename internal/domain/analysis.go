// Package domain – extraction and audit payload types.
//
// This file defines the structured payloads produced by the vision pipeline
// and stored as JSON on the Prescription row. The source data is decoded from
// model output, so scalar medicine fields are deliberately tolerant: a value
// may arrive as a JSON string or number, and may carry the sentinel strings
// "N/A" or "null" that the upstream model emits for unreadable fields.
package domain

import (
	"encoding/json"
	"fmt"
)

// FieldValue is a JSON-tolerant scalar for extracted medicine fields. It
// accepts strings, numbers, and null, normalizing everything to its string
// representation. A zero FieldValue means the field was absent.
type FieldValue string

// UnmarshalJSON accepts a string, a number, or null.
func (v *FieldValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = FieldValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*v = FieldValue(n.String())
		return nil
	}
	return fmt.Errorf("domain: field value %s is neither string nor number", b)
}

// MarshalJSON renders the value as a JSON string.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// Missing reports whether the value should be treated as not provided:
// absent, empty, or one of the upstream sentinel strings. The sentinels are
// string literals emitted by the model, not true JSON nulls.
func (v FieldValue) Missing() bool {
	return v == "" || v == "N/A" || v == "null"
}

// String returns the raw string form.
func (v FieldValue) String() string { return string(v) }

// Medicine is one extracted medication entry. Confidence is a single
// medicine-level scalar used as a proxy for every required field; it is nil
// when the model omitted it, in which case full confidence is assumed.
// Human overrides force the confidence to 1.0.
type Medicine struct {
	Name         string     `json:"name,omitempty"`
	Dosage       FieldValue `json:"dosage,omitempty"`
	Frequency    FieldValue `json:"frequency,omitempty"`
	DurationDays FieldValue `json:"duration_days,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	Confidence   *float64   `json:"confidence,omitempty"`
}

// ConfidenceValue returns the medicine-level confidence, defaulting to 1.0
// when the field was absent from the payload.
func (m Medicine) ConfidenceValue() float64 {
	if m.Confidence == nil {
		return 1.0
	}
	return *m.Confidence
}

// DisplayName returns the medicine name, with a placeholder for entries the
// model could not name.
func (m Medicine) DisplayName() string {
	if m.Name == "" {
		return "Unknown Medicine"
	}
	return m.Name
}

// Extraction is the structured medicine list produced by the vision pipeline.
type Extraction struct {
	Medicines []Medicine `json:"medicines"`
}

// AmbiguityState tags an audit record with the overall legibility outcome of
// an analysis run.
type AmbiguityState string

const (
	// StateClear means no ambiguity issues were detected.
	StateClear AmbiguityState = "CLEAR"
	// StateClarifiable means issues exist but can be resolved via user input.
	StateClarifiable AmbiguityState = "CLARIFIABLE"
	// StateUnresolvable means the image blocks scheduling entirely.
	StateUnresolvable AmbiguityState = "UNRESOLVABLE"
)

// AuditIssue records one ambiguous or suspect finding from the analysis.
type AuditIssue struct {
	Medicine string `json:"medicine,omitempty"`
	Field    string `json:"field,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Audit is the review payload stored alongside an extraction. The ambiguity
// state defaults to CLEAR when the analysis reported none. Validation is
// optional here; restore synthesizes a positive one when absent.
type Audit struct {
	AmbiguityState AmbiguityState `json:"ambiguity_state,omitempty"`
	Issues         []AuditIssue   `json:"issues,omitempty"`
	Validation     *Validation    `json:"validation,omitempty"`
}

// Validation is the outcome of the "is this a prescription" gate.
type Validation struct {
	IsPrescription bool    `json:"is_prescription"`
	Confidence     float64 `json:"confidence"`
	Reason         string  `json:"reason,omitempty"`
}

// ScheduleEntry is one row of the generated daily medication schedule.
type ScheduleEntry struct {
	Medicine     string `json:"medicine"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions,omitempty"`
	Morning      bool   `json:"morning"`
	Afternoon    bool   `json:"afternoon"`
	Night        bool   `json:"night"`
	DurationDays int    `json:"duration_days"`
}

// Analysis bundles everything one vision run (or one restore) produces for a
// prescription. It is an in-memory aggregate, not a persisted record: the
// extraction and audit parts are stored as JSON columns, the validation is
// stored inside the audit, and the schedule lives in session state only.
type Analysis struct {
	Extraction Extraction `json:"extraction"`
	Audit      Audit      `json:"audit"`
	Validation Validation `json:"validation"`
}
