package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Attachment types accepted on a message.
const (
	AttachmentImage = "image"
	AttachmentPDF   = "pdf"
	AttachmentAudio = "audio"
	AttachmentText  = "text"
)

type Attachment struct {
	URL  string `bson:"url" json:"url"`
	Type string `bson:"type" json:"type"`
	Name string `bson:"name,omitempty" json:"name,omitempty"`
}

// Message is one entry of the log between two identities. Sender, Recipient, Attachment and
// CreatedAt never change after creation; Text, Seen, EditedAt and DeletedFor are the mutable
// envelope.
type Message struct {
	ID         string      `bson:"_id" json:"id"`
	Sender     string      `bson:"sender" json:"sender_email"`
	Recipient  string      `bson:"recipient" json:"receiver_email"`
	Text       string      `bson:"text,omitempty" json:"text,omitempty"`
	Attachment *Attachment `bson:"attachment,omitempty" json:"attachment,omitempty"`
	Seen       bool        `bson:"seen" json:"seen"`
	CreatedAt  time.Time   `bson:"created_at" json:"created_at"`
	EditedAt   *time.Time  `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	DeletedFor []string    `bson:"deleted_for" json:"deleted_for"`
	SharedFrom string      `bson:"shared_from,omitempty" json:"shared_from,omitempty"`
}

// IsDeletedFor reports whether viewer has hidden the message for themselves.
func (m *Message) IsDeletedFor(viewer string) bool {
	for _, id := range m.DeletedFor {
		if id == viewer {
			return true
		}
	}
	return false
}

// Involves reports whether identity is the sender or the recipient.
func (m *Message) Involves(identity string) bool {
	return m.Sender == identity || m.Recipient == identity
}

// Between reports whether the message belongs to the conversation of a and b.
func (m *Message) Between(a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}

// Clone returns a deep copy so callers never share the mutable envelope.
func (m *Message) Clone() *Message {
	out := *m
	if m.Attachment != nil {
		a := *m.Attachment
		out.Attachment = &a
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	out.DeletedFor = append([]string{}, m.DeletedFor...)
	return &out
}

// ClassifyAttachment derives the attachment type from a file name extension.
func ClassifyAttachment(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3", ".wav", ".webm", ".m4a":
		return AttachmentAudio
	case ".pdf":
		return AttachmentPDF
	case ".jpg", ".jpeg", ".png", ".gif":
		return AttachmentImage
	default:
		return AttachmentText
	}
}

// NormalizeAttachment fills a missing type from the name and rejects unknown types.
func NormalizeAttachment(a *Attachment) (*Attachment, error) {
	if a == nil {
		return nil, nil
	}
	out := *a
	out.URL = strings.TrimSpace(out.URL)
	if out.URL == "" {
		return nil, Invalid("attachment url is required")
	}
	name := out.Name
	if name == "" {
		name = out.URL
	}
	switch out.Type {
	case "":
		out.Type = ClassifyAttachment(name)
	case AttachmentImage, AttachmentPDF, AttachmentAudio, AttachmentText:
	default:
		return nil, Invalid("unsupported attachment type " + out.Type)
	}
	return &out, nil
}

// NormalizeIdentity trims and lower-cases an email identity.
func NormalizeIdentity(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
