/*
Package log provides structured logging for RenderLite using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all RenderLite packages
  - Thread-safe concurrent writes

Configuration:
  - Level: debug/info/warn/error
  - JSONOutput: JSON (production) vs console (development)
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithServiceID: Add service ID context
  - WithDeploymentID: Add deployment ID context

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Structured Logging:

	pipelineLog := log.WithComponent("pipeline")
	pipelineLog.Info().
		Str("deployment_id", "dep-123").
		Str("image_tag", "renderlite-api-x:a1b2c3d").
		Msg("image built")

# Security

Never log secrets: environment variable values, encryption keys, webhook
secrets, and token-injected clone URLs must not reach a log line. Pipeline
log lines always show the public form of a repository URL.
*/
package log
