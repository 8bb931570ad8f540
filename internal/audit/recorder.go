package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"insurance-bot/internal/registration"
)

// Action tags written to audit_logs.action.
const (
	ActionCreate           = "CREATE"
	ActionUpdate           = "UPDATE"
	ActionDelete           = "DELETE"
	ActionStageChange      = "STAGE_CHANGE"
	ActionConsistencyCheck = "CONSISTENCY_CHECK"
)

// Entity is anything the recorder can attribute a row to.
type Entity interface {
	AuditTable() string
	AuditID() string
}

// Appender persists audit rows, normally the current unit of work.
type Appender interface {
	AppendAuditLog(ctx context.Context, entry registration.AuditLog) error
}

// Recorder writes audit rows into one unit of work and remembers them so
// they can be streamed once the unit commits.
type Recorder struct {
	sink Appender
	now  func() time.Time
	rows []registration.AuditLog
}

// NewRecorder binds a recorder to sink.
func NewRecorder(sink Appender) *Recorder {
	return &Recorder{sink: sink, now: time.Now}
}

// LogCreate records a newly created entity with its full state.
func (r *Recorder) LogCreate(ctx context.Context, e Entity) error {
	return r.append(ctx, e.AuditTable(), e.AuditID(), ActionCreate, map[string]any{"after": Snapshot(e)})
}

// LogUpdate records the changed fields between before and after. It writes
// nothing when no field changed. A changed Stage is tagged STAGE_CHANGE.
func (r *Recorder) LogUpdate(ctx context.Context, before, after Entity) error {
	changes, err := Diff(before, after)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	action := ActionUpdate
	if _, ok := changes["Stage"]; ok {
		action = ActionStageChange
	}
	return r.append(ctx, after.AuditTable(), after.AuditID(), action, changes)
}

// LogDelete records the last known state of a removed entity.
func (r *Recorder) LogDelete(ctx context.Context, e Entity) error {
	return r.append(ctx, e.AuditTable(), e.AuditID(), ActionDelete, map[string]any{"before": Snapshot(e)})
}

// LogAction records a free-form action. detail may be nil.
func (r *Recorder) LogAction(ctx context.Context, table, recordID, action string, detail any) error {
	return r.append(ctx, table, recordID, action, detail)
}

// Rows returns the rows written so far.
func (r *Recorder) Rows() []registration.AuditLog {
	return append([]registration.AuditLog(nil), r.rows...)
}

func (r *Recorder) append(ctx context.Context, table, recordID, action string, detail any) error {
	var payload []byte
	if detail != nil {
		var err error
		payload, err = json.Marshal(Snapshot(detail))
		if err != nil {
			return fmt.Errorf("audit marshal %s %s: %w", table, action, err)
		}
	}
	entry := registration.AuditLog{
		ID:        uuid.NewString(),
		TableName: table,
		RecordID:  recordID,
		Action:    action,
		Changes:   payload,
		CreatedAt: r.now().UTC(),
	}
	if err := r.sink.AppendAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	r.rows = append(r.rows, entry)
	return nil
}
