package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// logSink collects everything a deployment prints. Each completed line is
// mirrored to the event bus as it appears; the full accumulated text is
// persisted on the deployment row at termination, so subscribers that
// missed live lines can recover them from the store.
//
// It implements io.Writer so image builds and buildpack processes can
// stream into it directly.
type logSink struct {
	ctx          context.Context
	bus          Publisher
	deploymentID string

	mu      sync.Mutex
	full    strings.Builder
	partial strings.Builder
}

func newLogSink(ctx context.Context, bus Publisher, deploymentID string) *logSink {
	return &logSink{
		ctx:          ctx,
		bus:          bus,
		deploymentID: deploymentID,
	}
}

// Write appends raw process output, emitting an event per completed line.
func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.full.Write(p)
	for _, b := range p {
		if b == '\n' {
			s.emit(s.partial.String())
			s.partial.Reset()
			continue
		}
		s.partial.WriteByte(b)
	}
	return len(p), nil
}

// Line appends one complete log line.
func (s *logSink) Line(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.full.WriteString(line)
	s.full.WriteByte('\n')
	s.emit(line)
}

// Linef appends one formatted log line.
func (s *logSink) Linef(format string, args ...any) {
	s.Line(fmt.Sprintf(format, args...))
}

// String flushes any partial line and returns the accumulated text.
func (s *logSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partial.Len() > 0 {
		s.emit(s.partial.String())
		s.partial.Reset()
	}
	return s.full.String()
}

// emit publishes one line. Callers hold s.mu.
func (s *logSink) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	s.bus.DeploymentLog(s.ctx, s.deploymentID, line)
}
