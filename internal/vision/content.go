// Package vision adapts the external multimodal vision-language capability.
//
// This file defines the role-tagged message model sent to the capability.
// Content is a tagged variant (text or image bytes with a MIME type) rather
// than loosely-typed maps, so the wire adapter can be exhaustive over part
// kinds and the compiler catches unhandled shapes.
package vision

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Role identifies the author of a message turn.
type Role string

// Message roles accepted by the capability.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one piece of message content: either text or an embedded image.
// The two implementations are TextPart and ImagePart.
type Part interface {
	isPart()
}

// TextPart is plain text content.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// ImagePart is embedded image content with a declared MIME type.
type ImagePart struct {
	MIME string
	Data []byte
}

func (ImagePart) isPart() {}

// Message is one role-tagged turn of mixed content.
type Message struct {
	Role  Role
	Parts []Part
}

// SystemText builds a system turn with a single text part.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart{Text: text}}}
}

// UserText builds a user turn with a single text part.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// UserImage builds a user turn carrying text alongside image bytes.
func UserImage(text, mime string, data []byte) Message {
	return Message{Role: RoleUser, Parts: []Part{
		TextPart{Text: text},
		ImagePart{MIME: mime, Data: data},
	}}
}

// DataURI encodes image bytes as a base64 data URI with the given MIME type.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURI decodes a base64 data URI into its MIME type and raw bytes.
// Malformed URIs and malformed base64 payloads surface as errors.
func ParseDataURI(uri string) (mime string, data []byte, err error) {
	if !strings.HasPrefix(uri, "data:") {
		return "", nil, fmt.Errorf("vision: not a data URI")
	}
	header, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return "", nil, fmt.Errorf("vision: data URI has no payload separator")
	}
	meta := strings.TrimPrefix(header, "data:")
	mime, _, _ = strings.Cut(meta, ";")
	if mime == "" {
		return "", nil, fmt.Errorf("vision: data URI has no MIME type")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("vision: decode data URI payload: %w", err)
	}
	return mime, data, nil
}
