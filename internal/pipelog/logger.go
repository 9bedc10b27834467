// Copyright 2025 PipelineCore
// SPDX-License-Identifier: Apache-2.0

/*
Package pipelog provides structured JSON logging for pipeline
executions, keyed by pipeline_id/trace_id/step_name instead of the
client/request pairing a multi-tenant API service would use.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Pipeline ID and trace ID (for correlating an execution's log lines)
  - Step name (when the entry concerns one step)
  - Custom fields

Log entries are single-line JSON written to stdout, so they are
consumable by any log aggregator without a custom parser.
*/
package pipelog

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Level is the severity of a log entry.
type Level string

const (
	Debug Level = "DEBUG"
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
)

// Logger emits structured log entries scoped to pipeline executions.
type Logger struct {
	Component string
	Host      string
}

// Entry is one structured log line.
type Entry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      Level                  `json:"level"`
	Component  string                 `json:"component"`
	Host       string                 `json:"host"`
	PipelineID string                 `json:"pipeline_id,omitempty"`
	TraceID    string                 `json:"trace_id,omitempty"`
	Step       string                 `json:"step,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for the given component (e.g. "dispatcher",
// "checkpoint", "cmd").
func New(component string) *Logger {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Logger{Component: component, Host: host}
}

// Log writes one structured entry to stdout.
func (l *Logger) Log(level Level, pipelineID, traceID, step, message string, fields map[string]interface{}) {
	entry := Entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		Host:       l.Host,
		PipelineID: pipelineID,
		TraceID:    traceID,
		Step:       step,
		Message:    message,
		Fields:     fields,
	}

	b, err := json.Marshal(entry)
	if err != nil {
		log.Printf("ERROR: pipelog: failed to marshal log entry: %v", err)
		return
	}
	os.Stdout.Write(append(b, '\n'))
}

func (l *Logger) Info(pipelineID, traceID, step, message string, fields map[string]interface{}) {
	l.Log(Info, pipelineID, traceID, step, message, fields)
}

func (l *Logger) Warnf(pipelineID, traceID, step, message string, fields map[string]interface{}) {
	l.Log(Warn, pipelineID, traceID, step, message, fields)
}

func (l *Logger) Errorf(pipelineID, traceID, step, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Log(Error, pipelineID, traceID, step, message, fields)
}

func (l *Logger) Debugf(pipelineID, traceID, step, message string, fields map[string]interface{}) {
	l.Log(Debug, pipelineID, traceID, step, message, fields)
}

// ForDispatcher returns a dispatcher onLog callback bound to one
// execution's pipeline_id/trace_id, matching the signature the
// Dispatcher and Executor expect.
func (l *Logger) ForDispatcher(pipelineID, traceID string) func(level, msg string, fields map[string]interface{}) {
	return func(level, msg string, fields map[string]interface{}) {
		switch Level(levelUpper(level)) {
		case Warn:
			l.Warnf(pipelineID, traceID, "", msg, fields)
		case Error:
			l.Errorf(pipelineID, traceID, "", msg, nil, fields)
		case Debug:
			l.Debugf(pipelineID, traceID, "", msg, fields)
		default:
			l.Info(pipelineID, traceID, "", msg, fields)
		}
	}
}

func levelUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
