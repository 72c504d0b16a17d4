// Package stream defines the line-oriented frame protocol every provider
// adapter emits and the gateway forwards to clients.
//
// A frame is one line: a single-character code, a colon, a JSON value and a
// newline, e.g. `0:"Hello"\n`.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Code identifies the kind of a frame.
type Code byte

const (
	CodeText          Code = '0'
	CodeData          Code = '2'
	CodeError         Code = '3'
	CodeAnnotation    Code = '8'
	CodeToolCall      Code = '9'
	CodeToolResult    Code = 'a'
	CodeToolCallStart Code = 'b'
	CodeToolCallDelta Code = 'c'
	CodeFinishMessage Code = 'd'
	CodeFinishStep    Code = 'e'
	CodeStartStep     Code = 'f'
	CodeReasoning     Code = 'g'
)

// ErrMalformedFrame is returned by Parse for lines that are not frames.
var ErrMalformedFrame = errors.New("stream: malformed frame")

// IsContent reports whether the frame carries model output (text, reasoning or tool activity).
func (c Code) IsContent() bool {
	switch c {
	case CodeText, CodeReasoning, CodeToolCall, CodeToolCallStart, CodeToolCallDelta, CodeToolResult:
		return true
	}
	return false
}

// IsError reports whether the frame is an error frame.
func (c Code) IsError() bool { return c == CodeError }

// Prefix returns the literal line prefix for the code, e.g. "0:".
func (c Code) Prefix() string { return string([]byte{byte(c), ':'}) }

// ContentCodes lists every code that counts as real output.
func ContentCodes() []Code {
	return []Code{CodeText, CodeReasoning, CodeToolCall, CodeToolCallStart, CodeToolCallDelta, CodeToolResult}
}

// Encode renders one frame including the trailing newline.
func Encode(code Code, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame %c: %w", code, err)
	}
	out := make([]byte, 0, len(payload)+3)
	out = append(out, byte(code), ':')
	out = append(out, payload...)
	return append(out, '\n'), nil
}

// Parse splits a single line (without newline) into its code and payload.
func Parse(line []byte) (Code, json.RawMessage, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 2 || line[1] != ':' {
		return 0, nil, ErrMalformedFrame
	}
	payload := line[2:]
	if !json.Valid(payload) {
		return 0, nil, ErrMalformedFrame
	}
	return Code(line[0]), json.RawMessage(payload), nil
}

// StartStep is the payload of a start-step frame.
type StartStep struct {
	MessageID string `json:"messageId"`
}

// FinishStep is the payload of finish-step and finish-message frames.
type FinishStep struct {
	FinishReason string `json:"finishReason"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Usage reports token counts when the upstream provides them.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// ToolCallStart announces a streamed tool call.
type ToolCallStart struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

// ToolCall is a complete tool invocation.
type ToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

// ToolCallDelta carries a fragment of tool call arguments.
type ToolCallDelta struct {
	ToolCallID    string `json:"toolCallId"`
	ArgsTextDelta string `json:"argsTextDelta"`
}

// Writer emits frames to an underlying writer. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Frame writes a single frame.
func (fw *Writer) Frame(code Code, v any) error {
	line, err := Encode(code, v)
	if err != nil {
		return err
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(line)
	return err
}

func (fw *Writer) Text(s string) error      { return fw.Frame(CodeText, s) }
func (fw *Writer) Reasoning(s string) error { return fw.Frame(CodeReasoning, s) }
func (fw *Writer) Error(msg string) error   { return fw.Frame(CodeError, msg) }

func (fw *Writer) StartStep(messageID string) error {
	return fw.Frame(CodeStartStep, StartStep{MessageID: messageID})
}

func (fw *Writer) FinishStep(reason string, usage *Usage) error {
	return fw.Frame(CodeFinishStep, FinishStep{FinishReason: reason, Usage: usage})
}

func (fw *Writer) Finish(reason string, usage *Usage) error {
	return fw.Frame(CodeFinishMessage, FinishStep{FinishReason: reason, Usage: usage})
}

func (fw *Writer) ToolCallStart(id, name string) error {
	return fw.Frame(CodeToolCallStart, ToolCallStart{ToolCallID: id, ToolName: name})
}

func (fw *Writer) ToolCallDelta(id, args string) error {
	return fw.Frame(CodeToolCallDelta, ToolCallDelta{ToolCallID: id, ArgsTextDelta: args})
}

// ToolCall writes a complete tool call. Empty or invalid args become {}.
func (fw *Writer) ToolCall(id, name, args string) error {
	raw := json.RawMessage(args)
	if !json.Valid(raw) {
		raw = json.RawMessage("{}")
	}
	return fw.Frame(CodeToolCall, ToolCall{ToolCallID: id, ToolName: name, Args: raw})
}

// Annotation writes an out-of-band annotation frame. Annotations are always
// sent as a JSON array.
func (fw *Writer) Annotation(items ...any) error {
	return fw.Frame(CodeAnnotation, items)
}
