package logger

import (
	"log/slog"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// StyledLogger adds upstream-lifecycle-aware convenience methods over a
// plain slog.Logger, mirroring the teacher's StyledLogger wrapper but
// keyed on the three upstream states instead of endpoint health status.
type StyledLogger struct {
	*slog.Logger
}

func NewStyled(l *slog.Logger) *StyledLogger {
	return &StyledLogger{Logger: l}
}

func (s *StyledLogger) InfoUpstreamState(host string, port int, state domain.UpstreamState, msg string) {
	switch state {
	case domain.StateAvailable:
		s.Info(msg, "host", host, "port", port, "state", state.String())
	case domain.StateResting:
		s.Warn(msg, "host", host, "port", port, "state", state.String())
	case domain.StateUnavailable:
		s.Error(msg, "host", host, "port", port, "state", state.String())
	default:
		s.Info(msg, "host", host, "port", port, "state", state.String())
	}
}

func (s *StyledLogger) WithUpstream(host string, port int) *StyledLogger {
	return &StyledLogger{Logger: s.Logger.With("host", host, "port", port)}
}
