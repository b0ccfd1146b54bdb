// Package logger provides leveled, component-tagged logging for switchyard.
//
// Components tag each line with the subsystem that produced it ("relay",
// "telegram", "store", ...) so a single relay event can be followed across
// the registry, forwarder and provider adapter.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

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
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "UNKNOWN"
}

var (
	mu    sync.Mutex
	level = INFO
	out   io.Writer = os.Stdout
)

// SetLevel sets the minimum level that will be written.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func logf(l Level, component, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	sb.WriteString(" [")
	sb.WriteString(l.String())
	sb.WriteString("] [")
	sb.WriteString(component)
	sb.WriteString("] ")
	sb.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	sb.WriteByte('\n')
	io.WriteString(out, sb.String())
}

// DebugC logs a debug message for a component.
func DebugC(component, msg string) { logf(DEBUG, component, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(component, msg string, fields map[string]any) { logf(DEBUG, component, msg, fields) }

// InfoC logs an info message for a component.
func InfoC(component, msg string) { logf(INFO, component, msg, nil) }

// InfoCF logs an info message with structured fields.
func InfoCF(component, msg string, fields map[string]any) { logf(INFO, component, msg, fields) }

// WarnC logs a warning for a component.
func WarnC(component, msg string) { logf(WARN, component, msg, nil) }

// WarnCF logs a warning with structured fields.
func WarnCF(component, msg string, fields map[string]any) { logf(WARN, component, msg, fields) }

// ErrorC logs an error for a component.
func ErrorC(component, msg string) { logf(ERROR, component, msg, nil) }

// ErrorCF logs an error with structured fields.
func ErrorCF(component, msg string, fields map[string]any) { logf(ERROR, component, msg, fields) }
