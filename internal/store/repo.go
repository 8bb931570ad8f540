package store

import (
	"context"

	"insurance-bot/internal/registration"
)

// Gateway is transactional access to the registration data.
type Gateway interface {
	// WithinUnitOfWork runs fn in one atomic unit. A nil return commits every
	// write made through tx; any error or a cancelled ctx discards them all.
	WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// AppendErrorLog writes outside any unit of work so failures can be
	// recorded even when the unit that produced them rolled back.
	AppendErrorLog(ctx context.Context, entry registration.ErrorLog) error

	RecentAuditLogs(ctx context.Context, limit int) ([]registration.AuditLog, error)
	RecentErrorLogs(ctx context.Context, limit int) ([]registration.ErrorLog, error)
	Stats(ctx context.Context) (Stats, error)
}

// Tx is the set of operations available inside a unit of work.
type Tx interface {
	FindUserByChatID(ctx context.Context, chatID int64) (registration.User, error)
	FindUserByID(ctx context.Context, id string) (registration.User, error)
	CreateUser(ctx context.Context, u registration.User) error
	UpdateUser(ctx context.Context, u registration.User) error

	// CreateDocument returns ErrDuplicate when (user, fingerprint) already exists.
	CreateDocument(ctx context.Context, d registration.Document) error
	FindDocument(ctx context.Context, id string) (registration.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	DocumentExists(ctx context.Context, userID, fingerprint string) (bool, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]registration.Document, error)
	// ListDocumentsByUserAndStage returns the user's documents when the user is
	// currently in stage, and nothing otherwise.
	ListDocumentsByUserAndStage(ctx context.Context, userID string, stage registration.Stage) ([]registration.Document, error)

	CreateField(ctx context.Context, f registration.ExtractedField) error
	ListFieldsByDocument(ctx context.Context, documentID string) ([]registration.ExtractedField, error)
	DeleteFieldsByUser(ctx context.Context, userID string) (int, error)

	CreatePolicy(ctx context.Context, p registration.Policy) error
	FindLatestPolicyByUser(ctx context.Context, userID string) (registration.Policy, error)

	AppendAuditLog(ctx context.Context, entry registration.AuditLog) error
	AppendConversation(ctx context.Context, c registration.Conversation) error
}

// Stats summarizes the store for operators.
type Stats struct {
	Users           int `json:"users"`
	PoliciesIssued  int `json:"policiesIssued"`
	PoliciesPending int `json:"policiesPending"`
	PoliciesFailed  int `json:"policiesFailed"`
}
