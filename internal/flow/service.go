package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"insurance-bot/internal/audit"
	"insurance-bot/internal/consistency"
	"insurance-bot/internal/intake"
	"insurance-bot/internal/llm"
	"insurance-bot/internal/notify"
	"insurance-bot/internal/policy"
	"insurance-bot/internal/registration"
	"insurance-bot/internal/shared/metrics"
	"insurance-bot/internal/shared/storage/object"
	"insurance-bot/internal/shared/telemetry"
	"insurance-bot/internal/shared/util"
	"insurance-bot/internal/store"
)

const defaultName = "Friend"

var tracer = otel.Tracer("insurance-bot/internal/flow")

// Service turns chat triggers into units of work and replies.
type Service struct {
	Gateway   store.Gateway
	Intake    *intake.Pipeline
	Files     object.ObjectStore
	Narrative llm.NarrativeGenerator
	// PolicyNarrative writes the paragraph printed on policies. Narrative is
	// used when it is nil.
	PolicyNarrative llm.NarrativeGenerator
	Renderer        policy.Renderer
	Notifier        notify.Notifier
	Audit           audit.Publisher
	Now             func() time.Time
}

// Response is what the chat sees for one trigger.
type Response struct {
	Messages []string           `json:"messages"`
	Stage    registration.Stage `json:"stage,omitempty"`
	Document string             `json:"document,omitempty"`
}

type attachment struct {
	name    string
	data    []byte
	caption string
}

type outcome struct {
	messages []string
	from, to registration.Stage
	rejected bool
	document *attachment
	removed  []registration.Document
}

func (o *outcome) say(msg string) {
	o.messages = append(o.messages, msg)
}

func (o outcome) label() string {
	if o.rejected {
		return "rejected"
	}
	return "ok"
}

// Handle runs trigger t for chatID. Expected user mistakes become instructional
// replies with a nil error. Any other failure is recorded in the error log and
// answered with an apology; the error is returned for the caller's logs.
func (s *Service) Handle(ctx context.Context, chatID int64, t Trigger) (Response, error) {
	name := t.triggerName()
	ctx, span := tracer.Start(ctx, "flow.Handle", trace.WithAttributes(
		attribute.String("trigger", name),
		attribute.String("chat", util.ChatKey(chatID)),
	))
	defer span.End()

	var (
		out outcome
		err error
	)
	switch t := t.(type) {
	case Start:
		out, err = s.start(ctx, chatID, t)
	case Upload:
		out, err = s.upload(ctx, chatID, t)
	case Confirm:
		out, err = s.confirm(ctx, chatID)
	case Decline:
		out, err = s.decline(ctx, chatID)
	case Retry:
		out, err = s.retry(ctx, chatID)
	case Cancel:
		out, err = s.cancel(ctx, chatID)
	case ResendPolicy:
		out, err = s.resend(ctx, chatID)
	case FreeText:
		out, err = s.freeText(ctx, chatID, t)
	default:
		err = fmt.Errorf("unsupported trigger %T", t)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "trigger failed")
		metrics.IncTrigger(name, "error")
		s.recordFailure(ctx, chatID, name, err)
		out = outcome{messages: []string{msgApology}}
	} else {
		metrics.IncTrigger(name, out.label())
		if out.from != "" && out.to != "" && out.from != out.to {
			metrics.IncStageTransition(string(out.from), string(out.to))
		}
		telemetry.Info("flow.trigger", map[string]any{
			"trigger": name,
			"chat":    util.ChatKey(chatID),
			"from":    string(out.from),
			"to":      string(out.to),
			"outcome": out.label(),
		})
		s.cleanup(ctx, out.removed)
	}

	s.deliver(ctx, chatID, out)
	resp := Response{Messages: out.messages, Stage: out.to}
	if out.document != nil {
		resp.Document = out.document.name
	}
	return resp, err
}

func (s *Service) start(ctx context.Context, chatID int64, t Start) (outcome, error) {
	out, err := s.startOnce(ctx, chatID, t)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent start created the user first. The second pass finds it.
		telemetry.Info("flow.start_raced", map[string]any{"chat": util.ChatKey(chatID)})
		return s.startOnce(ctx, chatID, t)
	}
	return out, err
}

func (s *Service) startOnce(ctx context.Context, chatID int64, t Start) (outcome, error) {
	var out outcome
	err := s.unit(ctx, "start", func(ctx context.Context, tx store.Tx, rec *audit.Recorder) error {
		out = outcome{}
		user, err := tx.FindUserByChatID(ctx, chatID)
		if errors.Is(err, store.ErrNotFound) {
			name := strings.TrimSpace(t.Name)
			if name == "" {
				name = defaultName
			}
			user = registration.NewUser(chatID, name, s.now())
			if err := tx.CreateUser(ctx, user); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			if err := rec.LogCreate(ctx, user); err != nil {
				return err
			}
			out.from, out.to = registration.StageNone, user.Stage
			out.say(msgIntro)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}

		out.from = user.Stage
		res, err := consistency.Check(ctx, tx, rec, user)
		if err != nil {
			return err
		}
		user = res.User
		out.to = user.Stage
		if res.Repaired {
			out.removed = res.Removed
			out.say(msgResetDone)
			return nil
		}

		next, err := registration.Transition(user.Stage, registration.EventFreshStart, "")
		if errors.Is(err, registration.ErrFlowInProgress) {
			out.rejected = true
			out.say(alreadyInProgress(user.Stage))
			return nil
		}
		if err != nil {
			return err
		}
		if next == user.Stage {
			out.say(greetByStage(user.Stage))
			return nil
		}

		removed, err := consistency.DiscardDocuments(ctx, tx, rec, user.ID)
		if err != nil {
			return err
		}
		after := user
		after.Stage = next
		after.UploadAttempts = 0
		if err := s.saveUser(ctx, tx, rec, user, after); err != nil {
			return err
		}
		out.removed = removed
		out.to = next
		out.say(msgIntro)
		return nil
	})
	return out, err
}

func (s *Service) upload(ctx context.Context, chatID int64, t Upload) (outcome, error) {
	var out outcome
	err := s.unit(ctx, "upload", func(ctx context.Context, tx store.Tx, rec *audit.Recorder) error {
		out = outcome{}
		user, ok, err := s.findUser(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if !ok {
			out.rejected = true
			out.say(msgStartFirst)
			return nil
		}
		out.from, out.to = user.Stage, user.Stage

		kind, ok := registration.ExpectedUpload(user.Stage)
		if !ok {
			out.rejected = true
			out.say(msgNotExpected + "\n" + greetByStage(user.Stage))
			return nil
		}

		res, err := s.Intake.Ingest(ctx, tx, rec, user.ID, kind, t.Data)
		switch {
		case errors.Is(err, intake.ErrDuplicateContent):
			out.rejected = true
			out.say(msgDuplicate)
			return nil
		case errors.Is(err, intake.ErrMaxAttemptsExceeded):
			out.rejected = true
			out.say(maxAttempts(s.Intake.Limit()))
			return nil
		case errors.Is(err, registration.ErrInvalidTransition):
			out.rejected = true
			out.say(msgNotExpected + "\n" + greetByStage(user.Stage))
			return nil
		case err != nil:
			return err
		}

		out.to = res.User.Stage
		if res.ExtractionErr != nil {
			out.say(msgExtractionMiss)
		}
		if kind == registration.KindPassport {
			out.say(passportReceived(res.Fields))
			return nil
		}
		summary, err := s.review(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		out.say(summary)
		return nil
	})
	return out, err
}

func (s *Service) confirm(ctx context.Context, chatID int64) (outcome, error) {
	var (
		out outcome
		pay bool
	)
	err := s.unit(ctx, "confirm", func(ctx context.Context, tx store.Tx, rec *audit.Recorder) error {
		out, pay = outcome{}, false
		user, ok, err := s.findUser(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if !ok {
			out.rejected = true
			out.say(msgStartFirst)
			return nil
		}
		out.from, out.to = user.Stage, user.Stage

		switch user.Stage {
		case registration.StageWaitingForReview:
			next, err := registration.Transition(user.Stage, registration.EventConfirm, "")
			if err != nil {
				return err
			}
			after := user
			after.Stage = next
			if err := s.saveUser(ctx, tx, rec, user, after); err != nil {
				return err
			}
			out.to = next
			out.say(msgPriceQuote)
		case registration.StageWaitingForPayment:
			pay = true
		default:
			out.rejected = true
			out.say(greetByStage(user.Stage))
		}
		return nil
	})
	if err != nil || !pay {
		return out, err
	}
	return s.issuePolicy(ctx, chatID)
}

// issuePolicy renders and stores the policy outside any unit of work, then
// commits the policy row and the move to finished in one unit.
func (s *Service) issuePolicy(ctx context.Context, chatID int64) (outcome, error) {
	var (
		user   registration.User
		fields map[string]string
	)
	err := s.unit(ctx, "issue_policy_prepare", func(ctx context.Context, tx store.Tx, _ *audit.Recorder) error {
		var err error
		if user, err = tx.FindUserByChatID(ctx, chatID); err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		docs, byDoc, err := s.documentsWithFields(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		fields = fieldValues(docs, byDoc)
		return nil
	})
	if err != nil {
		return outcome{}, err
	}

	p := registration.NewPolicy(user.ID, "", s.now())
	narrative, err := s.policyNarrative().GenerateNarrative(ctx, user.ID,
		llm.PolicyPrompt(fields["FullName"], fields["Make"], fields["Model"], fields["Year"]))
	if err != nil {
		telemetry.Warn("flow.policy_narrative_failed", map[string]any{"user_id": user.ID, "error": err})
		narrative = ""
	}
	pdf, err := s.Renderer.Render(ctx, policy.FromPolicy(p, fields, narrative))
	if err != nil {
		return outcome{}, s.policyFailed(ctx, p, fmt.Errorf("render policy: %w", err))
	}
	key := path.Join("policies", user.ID, policy.FileName(p.PolicyNumber))
	if _, err := s.Files.Put(ctx, key, "application/pdf", bytes.NewReader(pdf)); err != nil {
		return outcome{}, s.policyFailed(ctx, p, fmt.Errorf("store policy: %w", err))
	}
	p.DocumentPath = key

	var (
		out   outcome
		stale bool
	)
	err = s.unit(ctx, "issue_policy", func(ctx context.Context, tx store.Tx, rec *audit.Recorder) error {
		out, stale = outcome{}, false
		current, err := tx.FindUserByID(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		out.from, out.to = current.Stage, current.Stage
		next, err := registration.Transition(current.Stage, registration.EventConfirm, "")
		if err != nil || next != registration.StageFinished {
			stale = true
			out.rejected = true
			out.say(greetByStage(current.Stage))
			return nil
		}
		if err := tx.CreatePolicy(ctx, p); err != nil {
			return fmt.Errorf("create policy: %w", err)
		}
		if err := rec.LogCreate(ctx, p); err != nil {
			return err
		}
		after := current
		after.Stage = next
		if err := s.saveUser(ctx, tx, rec, current, after); err != nil {
			return err
		}
		out.to = next
		return nil
	})
	if err != nil || stale {
		s.deleteBlob(ctx, key)
		return out, err
	}

	metrics.IncPolicyIssued()
	out.document = &attachment{name: policy.FileName(p.PolicyNumber), data: pdf, caption: msgPolicyCaption}
	out.say(msgPolicyIssued)
	return out, nil
}

// policyFailed keeps a failed policy row for operators and returns cause.
func (s *Service) policyFailed(ctx context.Context, p registration.Policy, cause error) error {
	p.Status = registration.PolicyFailed
	p.DocumentPath = ""
	err := s.unit(ctx, "issue_policy_failed", func(ctx context.Context, tx store.Tx, rec *audit.Recorder) error {
		if err := tx.CreatePolicy(ctx, p); err != nil {
			return fmt.Errorf("create failed policy: %w", err)
		}
		return rec.LogCreate(ctx, p)
	})
	if err != nil {
		telemetry.Error("flow.policy_failure_not_recorded", map[string]any{"user_id": p.UserID, "error": err})
	}
	return cause
}

func (s *Service) decline(ctx context.Context, chatID int64) (outcome, error) {
	var out outcome
	err := s.unit(ctx, "decline", func(ctx context.Context, tx store.Tx, _ *audit.Recorder) error {
		out = outcome{}
		user, ok, err := s.findUser(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if !ok {
			out.rejected = true
			out.say(msgStartFirst)
			return nil
		}
		out.from, out.to = user.Stage, user.Stage
		if user.Stage == registration.StageWaitingForPayment {
			out.say(msgPriceFixed)
			return nil
		}
		out.rejected = true
		out.say(greetByStage(user.Stage))
		return nil
	})
	return out, err
}

func (s *Service) retry(ctx context.Context, chatID int64) (outcome, error) {
	var out outcome
	err := s.unit(ctx, "retry", func(ctx context.Context, tx store.Tx, rec *audit.Recorder) error {
		out = outcome{}
		user, ok, err := s.findUser(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if !ok {
			out.rejected = true
			out.say(msgStartFirst)
			return nil
		}
		out.from, out.to = user.Stage, user.Stage

		next, err := registration.Transition(user.Stage, registration.EventRetry, "")
		if err != nil {
			out.rejected = true
			out.say(msgRetryRefused)
			return nil
		}
		removed, err := consistency.DiscardDocuments(ctx, tx, rec, user.ID)
		if err != nil {
			return err
		}
		after := user
		after.Stage = next
		after.UploadAttempts = 0
		if err := s.saveUser(ctx, tx, rec, user, after); err != nil {
			return err
		}
		out.removed = removed
		out.to = next
		out.say(msgRetryPrompt)
		return nil
	})
	return out, err
}

func (s *Service) cancel(ctx context.Context, chatID int64) (outcome, error) {
	var out outcome
	err := s.unit(ctx, "cancel", func(ctx context.Context, tx store.Tx, rec *audit.Recorder) error {
		out = outcome{}
		user, ok, err := s.findUser(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if !ok {
			out.say(msgCancelled)
			return nil
		}
		out.from, out.to = user.Stage, user.Stage

		next, err := registration.Transition(user.Stage, registration.EventCancel, "")
		if errors.Is(err, registration.ErrFlowInProgress) {
			out.rejected = true
			out.say(msgCancelRefused + "\n" + greetByStage(user.Stage))
			return nil
		}
		if err != nil {
			return err
		}
		removed, err := consistency.DiscardDocuments(ctx, tx, rec, user.ID)
		if err != nil {
			return err
		}
		after := user
		after.Stage = next
		after.UploadAttempts = 0
		if err := s.saveUser(ctx, tx, rec, user, after); err != nil {
			return err
		}
		out.removed = removed
		out.to = next
		out.say(msgCancelled)
		return nil
	})
	return out, err
}

func (s *Service) resend(ctx context.Context, chatID int64) (outcome, error) {
	var (
		out    outcome
		latest registration.Policy
		found  bool
	)
	err := s.unit(ctx, "resend_policy", func(ctx context.Context, tx store.Tx, _ *audit.Recorder) error {
		out, found = outcome{}, false
		user, ok, err := s.findUser(ctx, tx, chatID)
		if err != nil || !ok {
			return err
		}
		out.from, out.to = user.Stage, user.Stage
		latest, err = tx.FindLatestPolicyByUser(ctx, user.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		found = latest.Status == registration.PolicyIssued && latest.DocumentPath != ""
		return nil
	})
	if err != nil {
		return outcome{}, err
	}
	if !found {
		out.rejected = true
		out.say(msgNoPolicy)
		return out, nil
	}

	data, err := object.ReadAll(ctx, s.Files, latest.DocumentPath)
	if err != nil {
		return outcome{}, fmt.Errorf("read policy %s: %w", latest.PolicyNumber, err)
	}
	out.document = &attachment{name: policy.FileName(latest.PolicyNumber), data: data, caption: msgResendCaption}
	out.say(msgPolicyResent)
	return out, nil
}

func (s *Service) freeText(ctx context.Context, chatID int64, t FreeText) (outcome, error) {
	var (
		out  outcome
		user registration.User
		ok   bool
	)
	err := s.unit(ctx, "free_text_lookup", func(ctx context.Context, tx store.Tx, _ *audit.Recorder) error {
		var err error
		user, ok, err = s.findUser(ctx, tx, chatID)
		return err
	})
	if err != nil {
		return outcome{}, err
	}
	if ok {
		out.from, out.to = user.Stage, user.Stage
	}

	prompt := strings.TrimSpace(t.Text)
	if prompt == "" {
		out.say(greetByStage(user.Stage))
		return out, nil
	}

	answer, err := s.Narrative.GenerateNarrative(ctx, user.ID, prompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		telemetry.Warn("flow.narrative_failed", map[string]any{"chat": util.ChatKey(chatID), "error": err})
		out.say(msgOverloaded)
		return out, nil
	}
	out.say(answer)

	if ok {
		conv := registration.NewConversation(user.ID, prompt, answer, s.now())
		err := s.Gateway.WithinUnitOfWork(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.AppendConversation(ctx, conv)
		})
		if err != nil {
			telemetry.Warn("flow.conversation_not_saved", map[string]any{"user_id": user.ID, "error": err})
		}
	}
	return out, nil
}

// unit runs fn in one unit of work and publishes its audit rows after commit.
func (s *Service) unit(ctx context.Context, trigger string, fn func(ctx context.Context, tx store.Tx, rec *audit.Recorder) error) error {
	start := time.Now()
	var rows []registration.AuditLog
	err := s.Gateway.WithinUnitOfWork(ctx, func(ctx context.Context, tx store.Tx) error {
		rec := audit.NewRecorder(tx)
		if err := fn(ctx, tx, rec); err != nil {
			return err
		}
		rows = rec.Rows()
		return nil
	})
	metrics.ObserveUnitOfWork(trigger, start)
	if err != nil {
		return err
	}
	if s.Audit != nil && len(rows) > 0 {
		if err := s.Audit.Publish(ctx, rows); err != nil {
			telemetry.Warn("audit.publish_failed", map[string]any{"rows": len(rows), "error": err})
		}
	}
	return nil
}

func (s *Service) findUser(ctx context.Context, tx store.Tx, chatID int64) (registration.User, bool, error) {
	user, err := tx.FindUserByChatID(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return registration.User{}, false, nil
	}
	if err != nil {
		return registration.User{}, false, fmt.Errorf("load user: %w", err)
	}
	return user, true, nil
}

func (s *Service) saveUser(ctx context.Context, tx store.Tx, rec *audit.Recorder, before, after registration.User) error {
	if err := tx.UpdateUser(ctx, after); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return rec.LogUpdate(ctx, before, after)
}

func (s *Service) review(ctx context.Context, tx store.Tx, userID string) (string, error) {
	docs, byDoc, err := s.documentsWithFields(ctx, tx, userID)
	if err != nil {
		return "", err
	}
	return reviewSummary(docs, byDoc), nil
}

func (s *Service) documentsWithFields(ctx context.Context, tx store.Tx, userID string) ([]registration.Document, map[string][]registration.ExtractedField, error) {
	docs, err := tx.ListDocumentsByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("list documents: %w", err)
	}
	byDoc := make(map[string][]registration.ExtractedField, len(docs))
	for _, d := range docs {
		fields, err := tx.ListFieldsByDocument(ctx, d.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("list fields: %w", err)
		}
		byDoc[d.ID] = fields
	}
	return docs, byDoc, nil
}

// deliver pushes the outcome to the chat. Delivery failures are logged; the
// state change has already been committed.
func (s *Service) deliver(ctx context.Context, chatID int64, out outcome) {
	if s.Notifier == nil {
		return
	}
	if out.document != nil {
		if err := s.Notifier.SendDocument(ctx, chatID, out.document.name, out.document.data, out.document.caption); err != nil {
			telemetry.Warn("notify.document_failed", map[string]any{"chat": util.ChatKey(chatID), "error": err})
		}
	}
	for _, msg := range out.messages {
		if err := s.Notifier.SendText(ctx, chatID, msg); err != nil {
			telemetry.Warn("notify.text_failed", map[string]any{"chat": util.ChatKey(chatID), "error": err})
		}
	}
}

// cleanup removes the blobs of committed document deletions.
func (s *Service) cleanup(ctx context.Context, removed []registration.Document) {
	if len(removed) == 0 || s.Files == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, d := range removed {
		g.Go(func() error {
			if err := s.Files.Delete(gctx, d.StoragePath); err != nil {
				return fmt.Errorf("delete %s: %w", d.StoragePath, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.Warn("flow.blob_cleanup_failed", map[string]any{"error": err})
	}
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if err := s.Files.Delete(context.WithoutCancel(ctx), key); err != nil {
		telemetry.Warn("flow.blob_cleanup_failed", map[string]any{"key": key, "error": err})
	}
}

func (s *Service) recordFailure(ctx context.Context, chatID int64, trigger string, cause error) {
	chat := util.ChatKey(chatID)
	telemetry.Error("flow.trigger_failed", map[string]any{"trigger": trigger, "chat": chat, "error": cause})
	entry := registration.NewErrorLog(
		fmt.Sprintf("%s trigger failed for chat %s: %v", trigger, chat, cause),
		string(debug.Stack()),
		s.now(),
	)
	if err := s.Gateway.AppendErrorLog(context.WithoutCancel(ctx), entry); err != nil {
		telemetry.Error("flow.error_log_failed", map[string]any{"error": err})
	}
}

func (s *Service) policyNarrative() llm.NarrativeGenerator {
	if s.PolicyNarrative != nil {
		return s.PolicyNarrative
	}
	return s.Narrative
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
