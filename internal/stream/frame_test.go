package stream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	line, err := Encode(CodeText, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "0:\"Hello\"\n", string(line))
}

func TestParse(t *testing.T) {
	code, payload, err := Parse([]byte(`3:"invalid_api_key"`))
	require.NoError(t, err)
	assert.Equal(t, CodeError, code)
	assert.Equal(t, `"invalid_api_key"`, string(payload))

	_, _, err = Parse([]byte("data: hello"))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, _, err = Parse([]byte(`0:{not json`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestCodeClasses(t *testing.T) {
	for _, c := range ContentCodes() {
		assert.True(t, c.IsContent(), "code %c", c)
	}
	for _, c := range []Code{CodeStartStep, CodeFinishStep, CodeFinishMessage, CodeAnnotation, CodeData, CodeError} {
		assert.False(t, c.IsContent(), "code %c", c)
	}
	assert.True(t, CodeError.IsError())
	assert.Equal(t, "g:", CodeReasoning.Prefix())
}

func TestWriterSequence(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.StartStep("msg-1"))
	require.NoError(t, w.Text("hi"))
	require.NoError(t, w.ToolCallStart("call_1", "search"))
	require.NoError(t, w.FinishStep("stop", nil))

	want := "f:{\"messageId\":\"msg-1\"}\n" +
		"0:\"hi\"\n" +
		"b:{\"toolCallId\":\"call_1\",\"toolName\":\"search\"}\n" +
		"e:{\"finishReason\":\"stop\"}\n"
	assert.Equal(t, want, buf.String())
}

func TestWriter_ToolCall(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.ToolCall("c1", "ls", `{"path":"/"}`))
	require.NoError(t, w.ToolCall("c2", "pwd", ""))
	assert.Equal(t,
		"9:{\"toolCallId\":\"c1\",\"toolName\":\"ls\",\"args\":{\"path\":\"/\"}}\n"+
			"9:{\"toolCallId\":\"c2\",\"toolName\":\"pwd\",\"args\":{}}\n",
		buf.String())
}
