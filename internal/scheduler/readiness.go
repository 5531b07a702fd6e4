// Package scheduler decides whether an extraction is safe to turn into a
// medication schedule, and renders the final schedule as a printable PDF.
//
// The readiness evaluation is a pure function over the extraction payload:
// it has no side effects and can be re-derived at any time from a stored
// record, so the HTTP layer uses it both to gate schedule generation and to
// drive the transparency panel.
package scheduler

import (
	"github.com/tbourn/go-prescription-backend/internal/domain"
)

// ConfidenceThreshold is the minimum medicine-level confidence required for
// scheduling. The comparison is strict: exactly 0.8 counts as sufficient.
const ConfidenceThreshold = 0.8

// Required field names as they appear in the extraction payload and in
// readiness reports.
const (
	FieldDosage       = "dosage"
	FieldFrequency    = "frequency"
	FieldDurationDays = "duration_days"
)

// requiredFields are the fields a safe schedule needs for every medicine.
var requiredFields = []string{FieldDosage, FieldFrequency, FieldDurationDays}

// FieldRef names one (medicine, field) pair in a readiness report.
type FieldRef struct {
	Medicine string `json:"medicine"`
	Field    string `json:"field"`
}

// Readiness is the gating decision for an extraction payload.
//
// Missing lists fields that are absent or carry an upstream sentinel value;
// LowConfidence lists fields that are present but whose medicine-level
// confidence falls below the threshold. A field never appears in both lists:
// missing takes priority. IsReady is true iff both lists are empty, so an
// extraction with no medicines is vacuously ready.
type Readiness struct {
	IsReady       bool       `json:"is_ready"`
	Missing       []FieldRef `json:"missing"`
	LowConfidence []FieldRef `json:"low_confidence"`
}

// EvaluateReadiness analyzes an extraction for the completeness and
// confidence required for scheduling. Deterministic and side-effect free.
func EvaluateReadiness(extraction domain.Extraction) Readiness {
	missing := []FieldRef{}
	lowConf := []FieldRef{}

	// Missing fields are collected for the whole extraction first, keyed by
	// display name: the same medicine may appear as several entries, and a
	// field reported missing for that name must not also be reported as
	// low-confidence by a sibling entry.
	alreadyMissing := map[FieldRef]bool{}
	for _, med := range extraction.Medicines {
		name := med.DisplayName()
		for _, field := range requiredFields {
			ref := FieldRef{Medicine: name, Field: field}
			if requiredValue(med, field).Missing() && !alreadyMissing[ref] {
				missing = append(missing, ref)
				alreadyMissing[ref] = true
			}
		}
	}

	// The single medicine-level confidence stands in for every required
	// field; fields already reported missing are not reported twice.
	flaggedLow := map[FieldRef]bool{}
	for _, med := range extraction.Medicines {
		if med.ConfidenceValue() >= ConfidenceThreshold {
			continue
		}
		name := med.DisplayName()
		for _, field := range requiredFields {
			ref := FieldRef{Medicine: name, Field: field}
			if !alreadyMissing[ref] && !flaggedLow[ref] {
				lowConf = append(lowConf, ref)
				flaggedLow[ref] = true
			}
		}
	}

	return Readiness{
		IsReady:       len(missing) == 0 && len(lowConf) == 0,
		Missing:       missing,
		LowConfidence: lowConf,
	}
}

// requiredValue selects the named required field from a medicine entry.
func requiredValue(m domain.Medicine, field string) domain.FieldValue {
	switch field {
	case FieldDosage:
		return m.Dosage
	case FieldFrequency:
		return m.Frequency
	case FieldDurationDays:
		return m.DurationDays
	}
	return ""
}
