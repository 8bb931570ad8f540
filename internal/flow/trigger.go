package flow

import "strings"

// Trigger is one inbound chat event. The set is closed: Service.Handle
// switches over every variant below.
type Trigger interface {
	triggerName() string
}

// Start is the /start command.
type Start struct{ Name string }

// Upload carries the bytes of a photo or file sent to the chat.
type Upload struct {
	Data     []byte
	FileName string
}

// Confirm is a "yes" at review or payment.
type Confirm struct{}

// Decline is a "no" at payment.
type Decline struct{}

// Retry asks to upload new photos from review.
type Retry struct{}

// Cancel is the /cancel command.
type Cancel struct{}

// ResendPolicy is the /resendpolicy command.
type ResendPolicy struct{}

// FreeText is any other message, answered by the narrative generator.
type FreeText struct{ Text string }

func (Start) triggerName() string        { return "start" }
func (Upload) triggerName() string       { return "upload" }
func (Confirm) triggerName() string      { return "confirm" }
func (Decline) triggerName() string      { return "decline" }
func (Retry) triggerName() string        { return "retry" }
func (Cancel) triggerName() string       { return "cancel" }
func (ResendPolicy) triggerName() string { return "resend_policy" }
func (FreeText) triggerName() string     { return "free_text" }

// ParseText maps a chat text message to its trigger. name is the sender's
// display name, used only by Start.
func ParseText(text, name string) Trigger {
	cmd := strings.ToLower(strings.TrimSpace(text))
	if i := strings.IndexByte(cmd, '@'); i > 0 && strings.HasPrefix(cmd, "/") {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/start":
		return Start{Name: name}
	case "yes":
		return Confirm{}
	case "no":
		return Decline{}
	case "retry", "/retry":
		return Retry{}
	case "/cancel":
		return Cancel{}
	case "/resendpolicy":
		return ResendPolicy{}
	default:
		return FreeText{Text: text}
	}
}
