package flow

import (
	"fmt"
	"strings"

	"insurance-bot/internal/registration"
)

// Reply texts sent to the chat.
const (
	msgIntro = "👋 *Welcome to FastCar Insurance Bot!*\n\n" +
		"Here’s how it works:\n" +
		"1️⃣  Send a photo of your *passport*\n" +
		"2️⃣  Send a photo of your *vehicle registration*\n" +
		"3️⃣  Review the extracted data\n" +
		"4️⃣  Pay the *fixed price* *100 USD*\n" +
		"5️⃣  Receive your digital policy in seconds 🚗💨"
	msgAlreadyInProgress = "🚧 A request is already in progress."
	msgResetDone         = "🔄 Your previous attempt looked incomplete so I reset it.\n" +
		"Let's start fresh – please send your passport photo."
	msgCancelled      = "Your session has been cancelled. To start over, type /start or upload your passport."
	msgCancelRefused  = "🚧 Your request can't be cancelled at this step."
	msgRetryPrompt    = "🔄 Let's try again. Please upload your *passport* photo."
	msgRetryRefused   = "❌ You can only retry when reviewing extracted data."
	msgStartFirst     = "❌ User not found. Please start with /start"
	msgDuplicate      = "⚠️ This looks like a duplicate of a document you already sent. Please upload a different image."
	msgPassportOK     = "✅ Passport received! Now please send a photo of the vehicle registration certificate."
	msgExtractionMiss = "⚠️ I couldn't read any data from this photo. It was saved; you can type *retry* at review to upload new photos."
	msgPriceQuote     = "💰 The price is *100 USD*.\nType *yes* to proceed or *no* to cancel."
	msgPriceFixed     = "The price is fixed at 100 USD. Type *yes* whenever you're ready."
	msgPolicyIssued   = "✅ Policy generated and sent!"
	msgPolicyCaption  = "📄 Your policy is ready!"
	msgPolicyResent   = "✅ Policy resent."
	msgResendCaption  = "📄 Here is your policy again."
	msgNoPolicy       = "❌ No policy found for this chat. Complete the flow first."
	msgNotExpected    = "I'm not expecting a document right now."
	msgOverloaded     = "🤖 Sorry, I'm a bit overloaded. Please try again in a minute."
	msgApology        = "😔 Sorry, something went wrong on our side. Please try again in a moment."
)

func greetByStage(stage registration.Stage) string {
	switch stage {
	case registration.StageWaitingForPassport:
		return "Please upload your passport 🛂"
	case registration.StageWaitingForVehicle:
		return "Great! Now send the vehicle registration 📄"
	case registration.StageWaitingForReview:
		return "Type *yes* to confirm the extracted data or *retry* to upload new photos."
	case registration.StageWaitingForPayment:
		return "Type *yes* to pay 100 USD or *no* to cancel."
	default:
		return msgIntro
	}
}

func alreadyInProgress(stage registration.Stage) string {
	return msgAlreadyInProgress + "\n" + greetByStage(stage)
}

func maxAttempts(limit int) string {
	return fmt.Sprintf("⛔ You have used all %d upload attempts. Type /cancel to start over.", limit)
}

func passportReceived(fields []registration.ExtractedField) string {
	var b strings.Builder
	if len(fields) > 0 {
		b.WriteString("🔍 *Please review the extracted data:*")
		for _, f := range fields {
			fmt.Fprintf(&b, "\n• *%s*: `%s`", f.Name, f.Value)
		}
		b.WriteString("\n")
	}
	b.WriteString(msgPassportOK)
	return b.String()
}

// reviewSummary groups every extracted field by the document it came from.
func reviewSummary(docs []registration.Document, fields map[string][]registration.ExtractedField) string {
	var b strings.Builder
	b.WriteString("🔍 *Please review the extracted data:*\n\n")
	sections := []struct {
		kind  registration.DocumentKind
		title string
	}{
		{registration.KindPassport, "*📄 Passport Data:*"},
		{registration.KindVehicleRegistration, "*🚗 Vehicle Registration Data:*"},
	}
	for _, sec := range sections {
		var rows []registration.ExtractedField
		for _, d := range docs {
			if d.Kind == sec.kind {
				rows = append(rows, fields[d.ID]...)
			}
		}
		if len(rows) == 0 {
			continue
		}
		b.WriteString(sec.title + "\n")
		for _, f := range rows {
			fmt.Fprintf(&b, "• *%s*: `%s`\n", f.Name, f.Value)
		}
		b.WriteString("\n")
	}
	b.WriteString("Type *yes* to continue or *retry* to upload new photos.")
	return b.String()
}

// fieldValues flattens fields into name/value pairs. Later documents win.
func fieldValues(docs []registration.Document, fields map[string][]registration.ExtractedField) map[string]string {
	out := make(map[string]string)
	for _, d := range docs {
		for _, f := range fields[d.ID] {
			out[f.Name] = f.Value
		}
	}
	return out
}
