package extract

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"insurance-bot/internal/registration"
)

// Mode selects which extractor serves requests.
type Mode string

const (
	ModeSimulate Mode = "simulate"
	ModeDocument Mode = "document"
)

// ParseMode accepts the configured or admin-supplied mode name.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeSimulate:
		return ModeSimulate, nil
	case ModeDocument:
		return ModeDocument, nil
	default:
		return "", fmt.Errorf("unknown extraction mode %q", raw)
	}
}

// ModeSwitch holds the active extraction mode. It is created once at startup
// and changed only through the admin extraction-mode command.
type ModeSwitch struct {
	mode atomic.Value
}

// NewModeSwitch starts in initial.
func NewModeSwitch(initial Mode) *ModeSwitch {
	s := &ModeSwitch{}
	s.mode.Store(initial)
	return s
}

// Mode returns the active mode.
func (s *ModeSwitch) Mode() Mode {
	return s.mode.Load().(Mode)
}

// Set replaces the active mode and returns the previous one.
func (s *ModeSwitch) Set(m Mode) Mode {
	return s.mode.Swap(m).(Mode)
}

// Router dispatches to the simulated or document extractor per the switch.
type Router struct {
	modes     *ModeSwitch
	simulated Extractor
	document  Extractor
}

// NewRouter builds a Router over the two extractors.
func NewRouter(modes *ModeSwitch, simulated, document Extractor) *Router {
	return &Router{modes: modes, simulated: simulated, document: document}
}

func (r *Router) ExtractFields(ctx context.Context, raw []byte, kind registration.DocumentKind) (map[string]string, error) {
	if r.modes.Mode() == ModeSimulate {
		return r.simulated.ExtractFields(ctx, raw, kind)
	}
	return r.document.ExtractFields(ctx, raw, kind)
}

var (
	_ Extractor = Simulated{}
	_ Extractor = Text{}
	_ Extractor = (*Router)(nil)
)
