// Package vision – analysis chain.
//
// The chain owns the prompt set and turns raw streamed model text into the
// typed payloads the rest of the application consumes. Every method issues
// exactly one capability call; there are no retries, and failures propagate
// unchanged to the caller.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strings"

	"github.com/tbourn/go-prescription-backend/internal/domain"
	"github.com/tbourn/go-prescription-backend/internal/imaging"
)

// ValidationThreshold is the minimum validation confidence for an image to
// pass the "is this a prescription" gate.
const ValidationThreshold = 0.7

const validationPrompt = `You are a medical document classifier. Decide whether the attached image ` +
	`is a medical prescription. Respond with JSON only: ` +
	`{"is_prescription": bool, "confidence": number between 0 and 1, "reason": string}.`

const analysisPrompt = `You are a pharmacist's assistant reading a prescription photograph. ` +
	`Extract every medication with its dosage, frequency, duration in days, optional instructions, ` +
	`and a confidence score between 0 and 1 per medicine. Use the string "N/A" for unreadable fields. ` +
	`Audit your own reading: list ambiguous findings and tag the overall result as CLEAR, CLARIFIABLE, ` +
	`or UNRESOLVABLE. Respond with JSON only: ` +
	`{"extraction": {"medicines": [{"name", "dosage", "frequency", "duration_days", "instructions", "confidence"}]}, ` +
	`"audit": {"issues": [{"medicine", "field", "reason"}]}, ` +
	`"validation": {"is_prescription", "confidence", "reason"}, "ambiguity_state": string}.`

const schedulePrompt = `You are a medication scheduling assistant. Given the extracted medicines as JSON, ` +
	`produce a daily timeline assigning each medicine to morning/afternoon/night slots based on its frequency. ` +
	`Respond with JSON only: {"schedule": [{"medicine", "dosage", "instructions", "morning", "afternoon", "night", "duration_days"}]}.`

const clarifyPrompt = `You are a careful pharmacist's assistant. Answer the patient's question about their ` +
	`prescription using only the extracted data provided. If the data does not contain the answer, say so ` +
	`and recommend asking a pharmacist. Keep answers short and never invent medical facts.`

// Chain drives the prompt pipeline on top of a streaming Client.
type Chain struct {
	client      *Client
	temperature float64
	maxTokens   int
}

// NewChain builds a Chain with the given generation defaults.
func NewChain(client *Client, temperature float64, maxTokens int) *Chain {
	return &Chain{client: client, temperature: temperature, maxTokens: maxTokens}
}

// Model returns the underlying model identifier.
func (ch *Chain) Model() string { return ch.client.Model() }

// ValidatePrescription runs the throwaway classification gate. The result is
// a normal negative outcome, not an error, when the image is rejected;
// nothing from this call is persisted.
func (ch *Chain) ValidatePrescription(ctx context.Context, img image.Image) (bool, domain.Validation, error) {
	text, err := ch.ask(ctx, validationPrompt, "Classify this image.", img)
	if err != nil {
		return false, domain.Validation{}, err
	}

	var v domain.Validation
	if err := decodePayload(text, &v); err != nil {
		return false, domain.Validation{}, err
	}
	return v.IsPrescription && v.Confidence >= ValidationThreshold, v, nil
}

// AnalyzePrescription runs the full extraction pipeline on an image and
// returns the typed analysis bundle plus the ambiguity state reported by the
// model (CLEAR when it reported none).
func (ch *Chain) AnalyzePrescription(ctx context.Context, img image.Image) (*domain.Analysis, domain.AmbiguityState, error) {
	text, err := ch.ask(ctx, analysisPrompt, "Extract the medication data from this prescription.", img)
	if err != nil {
		return nil, "", err
	}

	var payload struct {
		Extraction     domain.Extraction     `json:"extraction"`
		Audit          domain.Audit          `json:"audit"`
		Validation     *domain.Validation    `json:"validation"`
		AmbiguityState domain.AmbiguityState `json:"ambiguity_state"`
	}
	if err := decodePayload(text, &payload); err != nil {
		return nil, "", err
	}

	state := payload.AmbiguityState
	if state == "" {
		state = domain.StateClear
	}
	validation := domain.Validation{IsPrescription: true, Confidence: 1.0}
	if payload.Validation != nil {
		validation = *payload.Validation
	}

	return &domain.Analysis{
		Extraction: payload.Extraction,
		Audit:      payload.Audit,
		Validation: validation,
	}, state, nil
}

// GenerateSchedule turns an extraction into daily schedule entries.
func (ch *Chain) GenerateSchedule(ctx context.Context, extraction domain.Extraction) ([]domain.ScheduleEntry, error) {
	extJSON, err := json.Marshal(extraction)
	if err != nil {
		return nil, fmt.Errorf("vision: encode extraction: %w", err)
	}

	stream, err := ch.client.Stream(ctx, []Message{
		SystemText(schedulePrompt),
		UserText(string(extJSON)),
	}, GenerationParams{Temperature: ch.temperature, MaxTokens: ch.maxTokens})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	text, err := stream.Text()
	if err != nil {
		return nil, err
	}

	var payload struct {
		Schedule []domain.ScheduleEntry `json:"schedule"`
	}
	if err := decodePayload(text, &payload); err != nil {
		return nil, err
	}
	return payload.Schedule, nil
}

// Clarify answers a user question about a prescription using the extracted
// data and the prior conversation. The capability is single-turn, so the
// history is folded into the user content as a transcript.
func (ch *Chain) Clarify(ctx context.Context, extraction domain.Extraction, history []domain.ChatMessage, question string) (string, error) {
	extJSON, err := json.Marshal(extraction)
	if err != nil {
		return "", fmt.Errorf("vision: encode extraction: %w", err)
	}

	var b strings.Builder
	b.WriteString("Extracted prescription data:\n")
	b.Write(extJSON)
	if len(history) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, m := range history {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nPatient question: ")
	b.WriteString(question)

	stream, err := ch.client.Stream(ctx, []Message{
		SystemText(clarifyPrompt),
		UserText(b.String()),
	}, GenerationParams{Temperature: ch.temperature, MaxTokens: ch.maxTokens})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	return stream.Text()
}

// ask sends one system+image call and drains the streamed reply.
func (ch *Chain) ask(ctx context.Context, system, userText string, img image.Image) (string, error) {
	data, err := imaging.Encode(img)
	if err != nil {
		return "", err
	}

	stream, err := ch.client.Stream(ctx, []Message{
		SystemText(system),
		UserImage(userText, "image/png", data),
	}, GenerationParams{Temperature: ch.temperature, MaxTokens: ch.maxTokens})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	return stream.Text()
}

// decodePayload extracts the JSON object from model text (tolerating code
// fences and surrounding prose) and unmarshals it into out. Malformed JSON
// surfaces as an error; it is never silently swallowed.
func decodePayload(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("vision: no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("vision: decode model output: %w", err)
	}
	return nil
}
