package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Fields carries the structured payload of one log record.
type Fields map[string]any

// Logger emits structured JSON records (ts, level, event name, fields) to
// stdout, or to the given writers when provided (tests capture output that
// way). Records below the configured minimum level are dropped.
type Logger struct {
	zl zerolog.Logger
}

// New constructs a logger with the given minimum level
// (DEBUG < INFO < WARN < ERROR).
func New(level string, writers ...io.Writer) (*Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var output io.Writer = os.Stdout
	if len(writers) > 0 {
		output = io.MultiWriter(writers...)
	}

	zl := zerolog.New(output).With().Timestamp().Logger().Level(lvl)
	return &Logger{zl: zl}, nil
}

func parseLevel(level string) (zerolog.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		level = zerolog.InfoLevel.String()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// Debug logs an event at DEBUG level.
func (l *Logger) Debug(event string, fields Fields) { l.emit(zerolog.DebugLevel, event, fields) }

// Info logs an event at INFO level.
func (l *Logger) Info(event string, fields Fields) { l.emit(zerolog.InfoLevel, event, fields) }

// Warn logs an event at WARN level.
func (l *Logger) Warn(event string, fields Fields) { l.emit(zerolog.WarnLevel, event, fields) }

// Error logs an event at ERROR level.
func (l *Logger) Error(event string, fields Fields) { l.emit(zerolog.ErrorLevel, event, fields) }

func (l *Logger) emit(lvl zerolog.Level, event string, fields Fields) {
	ev := l.zl.WithLevel(lvl)
	if ev == nil {
		return
	}
	for k, v := range Sanitize(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(event)
}

// secretKeys are field names treated as bearer credentials.
var secretKeys = map[string]struct{}{
	"token":          {},
	"bearer":         {},
	"authorization":  {},
	"whatsapp_token": {},
}

const redactionMarker = "…[REDACTED]"

// Sanitize returns a copy of fields safe for emission: secret-like string
// values longer than 20 characters are redacted down to a short prefix, and
// values that cannot be serialized degrade to a placeholder instead of
// failing the log call.
func Sanitize(fields Fields) Fields {
	if len(fields) == 0 {
		return nil
	}
	out := make(Fields, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			if _, secret := secretKeys[strings.ToLower(k)]; secret && len(s) > 20 {
				out[k] = s[:6] + redactionMarker
				continue
			}
			out[k] = s
			continue
		}
		if _, err := json.Marshal(v); err != nil {
			out[k] = fmt.Sprintf("<unserializable %T>", v)
			continue
		}
		out[k] = v
	}
	return out
}

var (
	nonDigits = regexp.MustCompile(`\D`)
	// country code + area code + middle group + two trailing pairs
	// (BR mobile/landline: 12 or 13 digits).
	groupedPhone = regexp.MustCompile(`^(\d{2})(\d{2})(\d{4,5})(\d{2})(\d{2})$`)
)

// MaskPhone replaces the middle digit group of a phone number with asterisks,
// keeping country/area codes and the last two digit pairs intact. Numbers
// that do not match the 2+2+(4|5)+2+2 grouping fall back to head/tail
// masking; very short strings keep only the last two digits.
func MaskPhone(p string) string {
	if p == "" {
		return p
	}
	d := nonDigits.ReplaceAllString(p, "")

	if m := groupedPhone.FindStringSubmatch(d); m != nil {
		return m[1] + m[2] + strings.Repeat("*", len(m[3])) + m[4] + m[5]
	}

	n := len(d)
	if n < 7 {
		if n <= 2 {
			return d
		}
		return strings.Repeat("*", n-2) + d[n-2:]
	}
	return d[:4] + strings.Repeat("*", n-6) + d[n-2:]
}
