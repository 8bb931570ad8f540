package store

import (
	"context"
	"sort"
	"sync"

	"insurance-bot/internal/registration"
)

// MemoryGateway is an in-memory Gateway. Units of work run one at a time
// against a private copy of the data that replaces the shared state on success.
type MemoryGateway struct {
	unitMu sync.Mutex

	mu     sync.RWMutex
	state  memoryState
	errors []registration.ErrorLog
}

type memoryState struct {
	users         map[string]registration.User
	documents     []registration.Document
	fields        []registration.ExtractedField
	policies      []registration.Policy
	audit         []registration.AuditLog
	conversations []registration.Conversation
}

// NewMemoryGateway constructs an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		state: memoryState{users: make(map[string]registration.User)},
	}
}

func (s memoryState) clone() memoryState {
	users := make(map[string]registration.User, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	return memoryState{
		users:         users,
		documents:     append([]registration.Document(nil), s.documents...),
		fields:        append([]registration.ExtractedField(nil), s.fields...),
		policies:      append([]registration.Policy(nil), s.policies...),
		audit:         append([]registration.AuditLog(nil), s.audit...),
		conversations: append([]registration.Conversation(nil), s.conversations...),
	}
}

// WithinUnitOfWork runs fn against a working copy and publishes it only if fn succeeds.
func (g *MemoryGateway) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.unitMu.Lock()
	defer g.unitMu.Unlock()

	g.mu.RLock()
	working := g.state.clone()
	g.mu.RUnlock()

	if err := fn(ctx, &memoryTx{st: &working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	g.state = working
	g.mu.Unlock()
	return nil
}

// AppendErrorLog records an error outside any unit of work.
func (g *MemoryGateway) AppendErrorLog(ctx context.Context, entry registration.ErrorLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errors = append(g.errors, entry)
	return nil
}

// RecentAuditLogs returns up to limit audit rows, newest first.
func (g *MemoryGateway) RecentAuditLogs(ctx context.Context, limit int) ([]registration.AuditLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return newestFirst(g.state.audit, limit), nil
}

// RecentErrorLogs returns up to limit error rows, newest first.
func (g *MemoryGateway) RecentErrorLogs(ctx context.Context, limit int) ([]registration.ErrorLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return newestFirst(g.errors, limit), nil
}

// Stats counts users and policies by status.
func (g *MemoryGateway) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	st := Stats{Users: len(g.state.users)}
	for _, p := range g.state.policies {
		switch p.Status {
		case registration.PolicyIssued:
			st.PoliciesIssued++
		case registration.PolicyPending:
			st.PoliciesPending++
		case registration.PolicyFailed:
			st.PoliciesFailed++
		}
	}
	return st, nil
}

// newestFirst relies on rows being appended in time order.
func newestFirst[T any](rows []T, limit int) []T {
	n := len(rows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(rows) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, rows[i])
	}
	return out
}

type memoryTx struct {
	st *memoryState
}

func (t *memoryTx) FindUserByChatID(ctx context.Context, chatID int64) (registration.User, error) {
	if err := ctx.Err(); err != nil {
		return registration.User{}, err
	}
	for _, u := range t.st.users {
		if u.ChatID == chatID {
			return u, nil
		}
	}
	return registration.User{}, ErrNotFound
}

func (t *memoryTx) FindUserByID(ctx context.Context, id string) (registration.User, error) {
	if err := ctx.Err(); err != nil {
		return registration.User{}, err
	}
	u, ok := t.st.users[id]
	if !ok {
		return registration.User{}, ErrNotFound
	}
	return u, nil
}

func (t *memoryTx) CreateUser(ctx context.Context, u registration.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.FindUserByChatID(ctx, u.ChatID); err == nil {
		return ErrDuplicate
	}
	t.st.users[u.ID] = u
	return nil
}

func (t *memoryTx) UpdateUser(ctx context.Context, u registration.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.st.users[u.ID]; !ok {
		return ErrNotFound
	}
	t.st.users[u.ID] = u
	return nil
}

func (t *memoryTx) CreateDocument(ctx context.Context, d registration.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Fingerprint != nil {
		exists, err := t.DocumentExists(ctx, d.UserID, *d.Fingerprint)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicate
		}
	}
	t.st.documents = append(t.st.documents, d)
	return nil
}

func (t *memoryTx) FindDocument(ctx context.Context, id string) (registration.Document, error) {
	if err := ctx.Err(); err != nil {
		return registration.Document{}, err
	}
	for _, d := range t.st.documents {
		if d.ID == id {
			return d, nil
		}
	}
	return registration.Document{}, ErrNotFound
}

func (t *memoryTx) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx := -1
	for i, d := range t.st.documents {
		if d.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	t.st.documents = append(t.st.documents[:idx], t.st.documents[idx+1:]...)
	kept := t.st.fields[:0]
	for _, f := range t.st.fields {
		if f.DocumentID != id {
			kept = append(kept, f)
		}
	}
	t.st.fields = kept
	return nil
}

func (t *memoryTx) DocumentExists(ctx context.Context, userID, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	for _, d := range t.st.documents {
		if d.UserID == userID && d.Fingerprint != nil && *d.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) ListDocumentsByUser(ctx context.Context, userID string) ([]registration.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []registration.Document{}
	for _, d := range t.st.documents {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out, nil
}

func (t *memoryTx) ListDocumentsByUserAndStage(ctx context.Context, userID string, stage registration.Stage) ([]registration.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, ok := t.st.users[userID]
	if !ok || u.Stage != stage {
		return []registration.Document{}, nil
	}
	return t.ListDocumentsByUser(ctx, userID)
}

func (t *memoryTx) CreateField(ctx context.Context, f registration.ExtractedField) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.FindDocument(ctx, f.DocumentID); err != nil {
		return err
	}
	t.st.fields = append(t.st.fields, f)
	return nil
}

func (t *memoryTx) ListFieldsByDocument(ctx context.Context, documentID string) ([]registration.ExtractedField, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []registration.ExtractedField{}
	for _, f := range t.st.fields {
		if f.DocumentID == documentID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (t *memoryTx) DeleteFieldsByUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	owned := make(map[string]bool)
	for _, d := range t.st.documents {
		if d.UserID == userID {
			owned[d.ID] = true
		}
	}
	kept := t.st.fields[:0]
	removed := 0
	for _, f := range t.st.fields {
		if owned[f.DocumentID] {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	t.st.fields = kept
	return removed, nil
}

func (t *memoryTx) CreatePolicy(ctx context.Context, p registration.Policy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, existing := range t.st.policies {
		if existing.PolicyNumber == p.PolicyNumber {
			return ErrDuplicate
		}
	}
	t.st.policies = append(t.st.policies, p)
	return nil
}

func (t *memoryTx) FindLatestPolicyByUser(ctx context.Context, userID string) (registration.Policy, error) {
	if err := ctx.Err(); err != nil {
		return registration.Policy{}, err
	}
	var (
		latest registration.Policy
		found  bool
	)
	for _, p := range t.st.policies {
		if p.UserID != userID {
			continue
		}
		if !found || !p.IssuedAt.Before(latest.IssuedAt) {
			latest = p
			found = true
		}
	}
	if !found {
		return registration.Policy{}, ErrNotFound
	}
	return latest, nil
}

func (t *memoryTx) AppendAuditLog(ctx context.Context, entry registration.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.st.audit = append(t.st.audit, entry)
	return nil
}

func (t *memoryTx) AppendConversation(ctx context.Context, c registration.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.st.conversations = append(t.st.conversations, c)
	return nil
}

var _ Gateway = (*MemoryGateway)(nil)
