// Package logger emits structured JSON log lines to stderr. Recipient
// addresses are redacted before they leave the process; lead identifiers
// are opaque UUIDs and pass through as-is.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level orders log severities.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel resolves a level name; unknown names default to INFO.
func ParseLevel(name string) Level {
	switch strings.ToLower(name) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger writes JSON entries above a minimum level.
type Logger struct {
	mu        sync.Mutex
	out       io.Writer
	level     Level
	redactPII bool
}

var std = &Logger{out: os.Stderr, level: INFO, redactPII: true}

// SetLevel sets the minimum level for the package-level logger.
func SetLevel(l Level) { std.level = l }

// SetRedactPII toggles address redaction on the package-level logger.
func SetRedactPII(on bool) { std.redactPII = on }

// Debug logs at DEBUG with alternating key/value fields.
func Debug(msg string, fields ...any) { std.log(DEBUG, msg, fields) }

// Info logs at INFO with alternating key/value fields.
func Info(msg string, fields ...any) { std.log(INFO, msg, fields) }

// Warn logs at WARN with alternating key/value fields.
func Warn(msg string, fields ...any) { std.log(WARN, msg, fields) }

// Error logs at ERROR with alternating key/value fields.
func Error(msg string, fields ...any) { std.log(ERROR, msg, fields) }

func (l *Logger) log(level Level, msg string, fields []any) {
	if level < l.level {
		return
	}

	entry := make(map[string]string, len(fields)/2+3)
	entry["time"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = level.String()
	entry["msg"] = msg

	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	fmt.Fprintln(l.out, string(line))
	l.mu.Unlock()
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// redactValue masks address-bearing fields entirely and scrubs embedded
// addresses out of everything else.
func redactValue(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "email") || strings.Contains(k, "recipient") || strings.Contains(k, "contact") {
		return RedactEmail(val)
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}
