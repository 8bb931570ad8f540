package registration

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentKind identifies which step of the flow a document satisfies.
type DocumentKind string

const (
	KindPassport            DocumentKind = "passport"
	KindVehicleRegistration DocumentKind = "vehicle_registration"
)

// Valid reports whether k is a known document kind.
func (k DocumentKind) Valid() bool {
	return k == KindPassport || k == KindVehicleRegistration
}

// Label is the human readable name used in chat replies.
func (k DocumentKind) Label() string {
	switch k {
	case KindPassport:
		return "Passport"
	case KindVehicleRegistration:
		return "Vehicle"
	default:
		return string(k)
	}
}

// PolicyStatus tracks the lifecycle of an issued policy.
type PolicyStatus string

const (
	PolicyPending PolicyStatus = "pending"
	PolicyIssued  PolicyStatus = "issued"
	PolicyFailed  PolicyStatus = "failed"
)

const (
	// PolicyPriceUSD is the fixed premium for every policy.
	PolicyPriceUSD = 100
	policyValidity = 7 * 24 * time.Hour
	policyNumLen   = 10
)

// User is the identity anchor of a chat participant.
type User struct {
	ID             string
	ChatID         int64
	Name           string
	Stage          Stage
	UploadAttempts int
	CreatedAt      time.Time
}

// Document is one uploaded artifact. Fingerprint is nil only for legacy rows.
type Document struct {
	ID          string
	UserID      string
	Kind        DocumentKind
	StoragePath string
	Fingerprint *string
	UploadedAt  time.Time
}

// ExtractedField is a single value read from a document.
type ExtractedField struct {
	ID         string
	DocumentID string
	Name       string
	Value      string
}

// Policy is the terminal artifact of a completed flow.
type Policy struct {
	ID           string
	UserID       string
	PolicyNumber string
	Status       PolicyStatus
	DocumentPath string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// AuditLog is an append-only record of a state change.
type AuditLog struct {
	ID        string
	TableName string
	RecordID  string
	Action    string
	Changes   []byte
	CreatedAt time.Time
}

// ErrorLog is an append-only record of an unexpected failure.
type ErrorLog struct {
	ID        string
	Message   string
	Trace     string
	CreatedAt time.Time
}

// Conversation stores one free-text exchange with the narrative generator.
type Conversation struct {
	ID        string
	UserID    string
	Prompt    string
	Response  string
	CreatedAt time.Time
}

// NewUser returns a user that has just entered the flow.
func NewUser(chatID int64, name string, now time.Time) User {
	return User{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Name:      strings.TrimSpace(name),
		Stage:     StageWaitingForPassport,
		CreatedAt: now.UTC(),
	}
}

// NewDocument returns a document row for freshly stored bytes.
func NewDocument(userID string, kind DocumentKind, storagePath, fingerprint string, now time.Time) Document {
	fp := fingerprint
	return Document{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		StoragePath: storagePath,
		Fingerprint: &fp,
		UploadedAt:  now.UTC(),
	}
}

// NewExtractedField returns a field bound to documentID.
func NewExtractedField(documentID, name, value string) ExtractedField {
	return ExtractedField{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Name:       name,
		Value:      value,
	}
}

// NewPolicy returns an issued policy valid for seven days from now.
func NewPolicy(userID, documentPath string, now time.Time) Policy {
	issued := now.UTC()
	return Policy{
		ID:           uuid.NewString(),
		UserID:       userID,
		PolicyNumber: NewPolicyNumber(),
		Status:       PolicyIssued,
		DocumentPath: documentPath,
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(policyValidity),
	}
}

// NewPolicyNumber returns a short upper-case alphanumeric policy number.
func NewPolicyNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:policyNumLen])
}

// NewErrorLog captures an unexpected failure.
func NewErrorLog(message, trace string, now time.Time) ErrorLog {
	return ErrorLog{
		ID:        uuid.NewString(),
		Message:   message,
		Trace:     trace,
		CreatedAt: now.UTC(),
	}
}

// NewConversation records a prompt and its reply.
func NewConversation(userID, prompt, response string, now time.Time) Conversation {
	return Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Prompt:    prompt,
		Response:  response,
		CreatedAt: now.UTC(),
	}
}

// AuditTable and AuditID let entities flow through the audit recorder.
func (u User) AuditTable() string           { return "users" }
func (u User) AuditID() string              { return u.ID }
func (d Document) AuditTable() string       { return "documents" }
func (d Document) AuditID() string          { return d.ID }
func (f ExtractedField) AuditTable() string { return "extracted_fields" }
func (f ExtractedField) AuditID() string    { return f.ID }
func (p Policy) AuditTable() string         { return "policies" }
func (p Policy) AuditID() string            { return p.ID }
