package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"insurance-bot/internal/shared/retry"
	"insurance-bot/internal/shared/telemetry"
)

// ErrEmptyResponse is returned when a provider answered without any text.
var ErrEmptyResponse = errors.New("narrative provider returned no text")

// SystemPrompt frames every request sent to a provider.
const SystemPrompt = "You are the assistant of FastCar Insurance. Answer briefly and politely. " +
	"You help customers insure their car: they send a passport photo, then a vehicle registration photo, " +
	"review the extracted data, pay a fixed price of 100 USD and receive their policy."

// GenericReply is sent when no provider could answer a free-text message.
const GenericReply = "Sorry, I couldn't generate a reply. Send /start to continue your registration."

// DefaultPolicyNarrative is printed on a policy when no provider answered.
const DefaultPolicyNarrative = "Thank you for choosing FastCar Insurance. Drive safely and enjoy the road."

// NarrativeGenerator produces free text for chat replies and policy documents.
type NarrativeGenerator interface {
	GenerateNarrative(ctx context.Context, userID, prompt string) (string, error)
}

// Retrying retries transient provider failures with exponential backoff.
type Retrying struct {
	Base   NarrativeGenerator
	Policy retry.Policy
}

// NewRetrying wraps base with the default three-try policy.
func NewRetrying(base NarrativeGenerator) *Retrying {
	return &Retrying{Base: base, Policy: retry.Default("narrative")}
}

func (r *Retrying) GenerateNarrative(ctx context.Context, userID, prompt string) (string, error) {
	var text string
	err := retry.Do(ctx, r.Policy, func(ctx context.Context) error {
		out, err := r.Base.GenerateNarrative(ctx, userID, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Fallback answers with Text whenever Base fails, so callers always get a reply.
type Fallback struct {
	Base NarrativeGenerator
	Text string
}

func (f *Fallback) GenerateNarrative(ctx context.Context, userID, prompt string) (string, error) {
	if f.Base != nil {
		text, err := f.Base.GenerateNarrative(ctx, userID, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if err == nil {
			err = ErrEmptyResponse
		}
		telemetry.Warn("narrative.degraded", map[string]any{"user_id": userID, "error": err})
	}
	return f.Text, nil
}

// Static always returns the same text. Used when no provider is configured.
type Static string

func (s Static) GenerateNarrative(ctx context.Context, _, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(s), nil
}

// PolicyPrompt asks for the personalized paragraph printed on a policy.
func PolicyPrompt(holder, vehicleMake, vehicleModel, year string) string {
	return fmt.Sprintf("Write one short friendly paragraph (max 60 words) for a car insurance policy document. "+
		"Policy holder: %s. Vehicle: %s %s %s. Coverage is valid for 7 days. Do not mention prices.",
		holder, vehicleMake, vehicleModel, year)
}

var (
	_ NarrativeGenerator = (*Retrying)(nil)
	_ NarrativeGenerator = (*Fallback)(nil)
	_ NarrativeGenerator = Static("")
)
