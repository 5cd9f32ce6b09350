package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Options controls where log lines go. Console output is JSON unless Pretty is set.
type Options struct {
	Level      string
	Service    string
	Console    bool
	Pretty     bool
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Logger struct {
	zl zerolog.Logger
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// New returns a JSON logger writing to output (stdout when nil).
func New(output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{zl: zerolog.New(output).With().Timestamp().Logger()}
}

// Init installs a stdout JSON logger at info level.
func Init() {
	setGlobal(New(os.Stdout))
}

// SetOutput replaces the global logger with a JSON logger writing to w.
func SetOutput(w io.Writer) {
	setGlobal(New(w))
}

// Configure builds the global logger from options and attaches the
// log_statements_total counter hook.
func Configure(opts Options) error {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return errors.Wrapf(err, "log level %q is not supported", opts.Level)
		}
		level = parsed
	}

	var writers []io.Writer
	if opts.Console || opts.FilePath == "" {
		if opts.Pretty {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: zerolog.TimeFieldFormat})
		} else {
			writers = append(writers, os.Stdout)
		}
	}
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o750); err != nil {
			return errors.Wrap(err, "failed creating log directory")
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		})
	}

	service := opts.Service
	if service == "" {
		service = "hourse"
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		Hook(NewPrometheusHook(service)).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	setGlobal(&Logger{zl: zl})
	return nil
}

func setGlobal(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

func current() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

func (l *Logger) log(level LogLevel, action string, userID *string, details map[string]interface{}, err error) {
	var event *zerolog.Event
	switch level {
	case LevelError:
		event = l.zl.Error()
	case LevelWarn:
		event = l.zl.Warn()
	default:
		event = l.zl.Info()
	}
	if event == nil {
		return
	}

	event = event.Str("action", action)
	if userID != nil {
		event = event.Str("user_id", *userID)
	}
	if len(details) > 0 {
		event = event.Fields(map[string]interface{}{"details": details})
	}
	if err != nil {
		event = event.Str("error", err.Error())
	}
	if caller := callerLocation(); caller != "" {
		event = event.Str("caller", caller)
	}
	event.Send()
}

func Info(action string, details map[string]interface{}) {
	if l := current(); l != nil {
		l.log(LevelInfo, action, nil, details, nil)
	}
}

func InfoWithUser(userID string, action string, details map[string]interface{}) {
	if l := current(); l != nil {
		l.log(LevelInfo, action, &userID, details, nil)
	}
}

func Warn(action string, details map[string]interface{}) {
	if l := current(); l != nil {
		l.log(LevelWarn, action, nil, details, nil)
	}
}

func WarnWithUser(userID string, action string, details map[string]interface{}) {
	if l := current(); l != nil {
		l.log(LevelWarn, action, &userID, details, nil)
	}
}

func Error(action string, err error, details map[string]interface{}) {
	if l := current(); l != nil {
		l.log(LevelError, action, nil, details, err)
	}
}

func ErrorWithUser(userID string, action string, err error, details map[string]interface{}) {
	if l := current(); l != nil {
		l.log(LevelError, action, &userID, details, err)
	}
}

func GetUserIDFromContext(c *fiber.Ctx) *string {
	if userID := c.Locals("userID"); userID != nil {
		if id, ok := userID.(string); ok {
			return &id
		}
	}
	return nil
}

func callerLocation() string {
	if _, file, line, ok := runtime.Caller(3); ok {
		return fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return ""
}

var sensitiveFields = []string{"password", "secret", "token", "apiKey", "accessKey", "secretKey", "serviceRoleKey"}

func redactSensitiveFields(jsonMap map[string]interface{}) {
	for _, field := range sensitiveFields {
		if _, exists := jsonMap[field]; exists {
			jsonMap[field] = "[REDACTED]"
		}
	}
}

func GetRequestBodySummary(c *fiber.Ctx) string {
	body := c.Body()
	if len(body) == 0 {
		return "empty"
	}

	if len(body) > 1024 {
		return fmt.Sprintf("large (%d bytes)", len(body))
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(body, &jsonMap); err == nil {
		redactSensitiveFields(jsonMap)
		if jsonBytes, err := json.Marshal(jsonMap); err == nil {
			if len(jsonBytes) > 200 {
				return string(jsonBytes[:200]) + "..."
			}
			return string(jsonBytes)
		}
	}

	return fmt.Sprintf("binary (%d bytes)", len(body))
}

func GetResponseSizeSummary(c *fiber.Ctx) string {
	body := c.Response().Body()
	if len(body) == 0 {
		return "empty"
	}

	if len(body) > 1024 {
		return fmt.Sprintf("large (%d bytes)", len(body))
	}

	return fmt.Sprintf("small (%d bytes)", len(body))
}

func GenerateRequestID() string {
	return uuid.New().String()
}
