package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"time"
)

// ErrorCode identifies why a stage or pipeline run failed.
type ErrorCode string

const (
	CodeAnalysisTimeout     ErrorCode = "ANALYSIS_TIMEOUT"
	CodeStageFailed         ErrorCode = "STAGE_FAILED"
	CodeMissingResultData   ErrorCode = "MISSING_RESULT_DATA"
	CodeMissingErrorMessage ErrorCode = "MISSING_ERROR_MESSAGE"
)

// Error is the error form of a failed Result.
type Error struct {
	Code    ErrorCode
	Stage   Stage
	Message string
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is a success-or-failure envelope. It can only be built with OK or
// Fail, so a success always carries data and a failure always carries a
// non-empty message.
type Result[T any] struct {
	ok        bool
	data      T
	code      ErrorCode
	stage     Stage
	message   string
	elapsed   time.Duration
	timestamp time.Time
	metadata  map[string]any
}

// OK wraps data in a successful result. Nil pointers, maps, slices or
// interfaces are treated as missing data and produce a failure instead.
func OK[T any](data T) Result[T] {
	if isNil(data) {
		return Fail[T](CodeMissingResultData, "success result constructed without data")
	}
	return Result[T]{ok: true, data: data, timestamp: time.Now().UTC()}
}

// Fail builds a failed result. An empty message is itself an envelope
// violation and is reported as CodeMissingErrorMessage.
func Fail[T any](code ErrorCode, message string) Result[T] {
	if message == "" {
		message = fmt.Sprintf("failure result constructed without message (code %s)", code)
		code = CodeMissingErrorMessage
	}
	return Result[T]{code: code, message: message, timestamp: time.Now().UTC()}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func (r Result[T]) Success() bool          { return r.ok }
func (r Result[T]) Code() ErrorCode        { return r.code }
func (r Result[T]) Stage() Stage           { return r.stage }
func (r Result[T]) Message() string        { return r.message }
func (r Result[T]) Elapsed() time.Duration { return r.elapsed }
func (r Result[T]) ElapsedMs() int64       { return r.elapsed.Milliseconds() }
func (r Result[T]) Timestamp() time.Time   { return r.timestamp }

// Data returns the payload and whether the result succeeded.
func (r Result[T]) Data() (T, bool) { return r.data, r.ok }

// Err returns nil on success, otherwise an *Error.
func (r Result[T]) Err() error {
	if r.ok {
		return nil
	}
	return &Error{Code: r.code, Stage: r.stage, Message: r.message}
}

// Metadata returns a copy of the attached metadata.
func (r Result[T]) Metadata() map[string]any { return maps.Clone(r.metadata) }

// WithStage records which stage a failure came from.
func (r Result[T]) WithStage(s Stage) Result[T] {
	r.stage = s
	return r
}

// WithElapsed sets the elapsed duration (negative values clamp to zero).
func (r Result[T]) WithElapsed(d time.Duration) Result[T] {
	if d < 0 {
		d = 0
	}
	r.elapsed = d
	return r
}

// WithMeta returns a copy with key set in the metadata.
func (r Result[T]) WithMeta(key string, value any) Result[T] {
	m := maps.Clone(r.metadata)
	if m == nil {
		m = map[string]any{}
	}
	m[key] = value
	r.metadata = m
	return r
}

// Validate re-checks the envelope invariants.
func (r Result[T]) Validate() error {
	if r.ok && isNil(r.data) {
		return &Error{Code: CodeMissingResultData, Stage: r.stage, Message: "success without data"}
	}
	if !r.ok && r.message == "" {
		return &Error{Code: CodeMissingErrorMessage, Stage: r.stage, Message: "failure without message"}
	}
	return nil
}

type resultJSON struct {
	Success      bool           `json:"success"`
	Data         any            `json:"data,omitempty"`
	ErrorCode    ErrorCode      `json:"errorCode,omitempty"`
	Stage        Stage          `json:"stage,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	ElapsedMs    int64          `json:"elapsedMs"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (r Result[T]) MarshalJSON() ([]byte, error) {
	v := resultJSON{
		Success:      r.ok,
		ErrorCode:    r.code,
		Stage:        r.stage,
		ErrorMessage: r.message,
		ElapsedMs:    r.ElapsedMs(),
		Timestamp:    r.timestamp,
		Metadata:     r.metadata,
	}
	if r.ok {
		v.Data = r.data
	}
	return json.Marshal(v)
}
