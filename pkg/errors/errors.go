package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// New 创建携带调用栈的错误
func New(message string) error {
	return pkgerrors.New(message)
}

// Errorf 格式化创建携带调用栈的错误
func Errorf(format string, args ...interface{}) error {
	return pkgerrors.Errorf(format, args...)
}

// Wrap 包装错误并附加信息，err为nil时返回nil
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Wrapf 格式化包装错误，err为nil时返回nil
func Wrapf(err error, format string, args ...interface{}) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// WithStack 为错误附加调用栈
func WithStack(err error) error {
	return pkgerrors.WithStack(err)
}

// WithMessage 为错误附加信息，不附加调用栈
func WithMessage(err error, message string) error {
	return pkgerrors.WithMessage(err, message)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

func Cause(err error) error {
	return pkgerrors.Cause(err)
}

// NewWithReport 创建错误并上报
func NewWithReport(message string) error {
	err := pkgerrors.New(message)
	report(err)
	return err
}

// ErrorfAndReport 格式化创建错误并上报
func ErrorfAndReport(format string, args ...interface{}) error {
	err := pkgerrors.Errorf(format, args...)
	report(err)
	return err
}

// WrapAndReport 包装错误并上报，err为nil时返回nil
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	err = pkgerrors.Wrap(err, message)
	report(err)
	return err
}

// WrapfAndReport 格式化包装错误并上报，err为nil时返回nil
func WrapfAndReport(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	err = pkgerrors.Wrapf(err, format, args...)
	report(err)
	return err
}

// WithStackAndReport 附加调用栈并上报，err为nil时返回nil
func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	err = pkgerrors.WithStack(err)
	report(err)
	return err
}

// WithMessageAndReport 附加信息并上报，err为nil时返回nil
func WithMessageAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	err = pkgerrors.WithMessage(err, message)
	report(err)
	return err
}

type stack []uintptr

func callers() stack {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// fullStack 返回格式化的调用栈，每一帧形如 `function file:line`
func (s stack) fullStack() []string {
	frames := runtime.CallersFrames(s)
	lines := make([]string, 0, len(s))
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			lines = append(lines, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	// 保证调用方可以按下标取帧
	for len(lines) < 3 {
		lines = append(lines, "")
	}
	return lines
}
