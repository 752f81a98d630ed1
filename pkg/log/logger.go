package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/t-tomalak/logrus-easy-formatter"
)

var logger *customLogger

// nolint:gochecknoinits
func init() {
	logger = newLogger()
}

type customLogger struct {
	*logrus.Logger
}

// SetLevel
// Set log level:
// DebugLevel = 0
// InfoLevel = 1
// WarnLevel = 2
// ErrorLevel = 3
func SetLevel(lvl int) {
	switch lvl {
	case 0:
		logger.Level = logrus.DebugLevel
	case 1:
		logger.Level = logrus.InfoLevel
	case 2:
		logger.Level = logrus.WarnLevel
	case 3:
		logger.Level = logrus.ErrorLevel
	default:
		logger.Level = logrus.InfoLevel
	}
	Infof("log level set to %s.", strings.ToUpper(logger.Level.String()))
}

// SetLevelName sets the level from its config name, e.g. "debug" or "warn".
// Unknown names fall back to INFO.
func SetLevelName(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		SetLevel(0)
	case "warn", "warning":
		SetLevel(2)
	case "error":
		SetLevel(3)
	default:
		SetLevel(1)
	}
}

// SetOutput redirects log output, mostly for tests. A nil writer restores stderr.
func SetOutput(out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	logger.Out = out
}

func newLogger() *customLogger {
	logger := &logrus.Logger{
		Out:   os.Stderr,
		Level: logrus.InfoLevel,
		Hooks: make(logrus.LevelHooks),
		Formatter: &topicFormatter{easy.Formatter{
			TimestampFormat: "01-02 15:04:05.000",
			LogFormat:       "[%lvl%]   [%time%]   -   %msg%\r\n",
		}},
	}
	return &customLogger{logger}
}

// topicFormatter prefixes the message with the entry's topic field.
type topicFormatter struct {
	easy.Formatter
}

func (f *topicFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	if topic, ok := entry.Data[topicField]; ok {
		entry.Message = fmt.Sprintf("[%v] %s", topic, entry.Message)
	}
	return f.Formatter.Format(entry)
}

const topicField = "topic"

// WithTopic returns an entry tagged with a relay topic. The topic is
// shortened to keep lines readable.
func WithTopic(topic string) *logrus.Entry {
	return logger.WithField(topicField, shortTopic(topic))
}

// WithFields returns an entry carrying the given fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return logger.WithFields(fields)
}

func shortTopic(topic string) string {
	if len(topic) <= 12 {
		return topic
	}
	return topic[:6] + ".." + topic[len(topic)-4:]
}

// Debug
func Debug(content interface{}) {
	logger.Debug(content)
}

// Debugf
func Debugf(format string, args ...interface{}) {
	content := fmt.Sprintf(format, args...)
	logger.Debug(content)
}

// Info
func Info(content interface{}) {
	logger.Info(content)
}

// Infof
func Infof(format string, args ...interface{}) {
	content := fmt.Sprintf(format, args...)
	logger.Info(content)
}

// Warn
func Warn(content interface{}) {
	logger.Warn(content)
}

// Warnf
func Warnf(format string, args ...interface{}) {
	content := fmt.Sprintf(format, args...)
	logger.Warn(content)
}

// Error
func Error(content interface{}) {
	logger.Error(content)
}

// Errorf
func Errorf(format string, args ...interface{}) {
	content := fmt.Sprintf(format, args...)
	logger.Error(content)
}

// Fatal
func Fatal(content interface{}) {
	logger.Fatal(content)
}

// Fatalf
func Fatalf(format string, args ...interface{}) {
	content := fmt.Sprintf(format, args...)
	logger.Fatal(content)
}
