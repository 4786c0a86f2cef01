package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogSinkSplitsWrites(t *testing.T) {
	rec := &eventRecorder{}
	sink := newLogSink(context.Background(), rec, "dep-1")

	fmt.Fprintf(sink, "Step 1/3 : FROM node\nStep 2/3")
	fmt.Fprintf(sink, " : COPY . .\nStep 3/3 : CMD\n")

	assert.Equal(t, []string{
		"Step 1/3 : FROM node",
		"Step 2/3 : COPY . .",
		"Step 3/3 : CMD",
	}, rec.logs)
	assert.Equal(t, "Step 1/3 : FROM node\nStep 2/3 : COPY . .\nStep 3/3 : CMD\n", sink.String())
}

func TestLogSinkFlushesPartialLine(t *testing.T) {
	rec := &eventRecorder{}
	sink := newLogSink(context.Background(), rec, "dep-1")

	sink.Line("first")
	fmt.Fprint(sink, "no trailing newline")

	assert.Equal(t, "first\nno trailing newline", sink.String())
	assert.Equal(t, []string{"first", "no trailing newline"}, rec.logs)
}

func TestLogSinkSkipsBlankEventLines(t *testing.T) {
	rec := &eventRecorder{}
	sink := newLogSink(context.Background(), rec, "dep-1")

	fmt.Fprint(sink, "one\n\r\n\ntwo\r\n")

	// Blank lines stay in the persisted text but are not worth an event.
	assert.Equal(t, []string{"one", "two"}, rec.logs)
	assert.Equal(t, "one\n\r\n\ntwo\r\n", sink.String())
}

func TestLogSinkLinef(t *testing.T) {
	rec := &eventRecorder{}
	sink := newLogSink(context.Background(), rec, "dep-1")

	sink.Linef("built %s in %ds", "img:abc", 42)
	assert.Equal(t, []string{"built img:abc in 42s"}, rec.logs)
}
