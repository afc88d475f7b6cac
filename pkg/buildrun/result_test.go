package buildrun

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name     string
		stream   string
		want     *Result
		protoErr bool
	}{
		{
			name:   "success",
			stream: "build log...\n###RESULT###\n{\"success\":true,\"output\":\"ok\"}",
			want:   &Result{Success: true, Output: "ok", Log: "build log...\n"},
		},
		{
			name:   "compile failure is a normal result",
			stream: "log\n###RESULT###\n{\"success\":false,\"output\":\"boom\",\"errors\":[{\"file\":\"src/main.ino\",\"line\":3,\"column\":1,\"severity\":\"error\",\"message\":\"expected ';'\"}]}\n",
			want: &Result{
				Success: false,
				Output:  "boom",
				Diagnostics: []Diagnostic{
					{File: "src/main.ino", Line: 3, Column: 1, Severity: "error", Message: "expected ';'"},
				},
				Log: "log\n",
			},
		},
		{
			name:   "split on first marker only",
			stream: "###RESULT###{\"success\":true,\"output\":\"has ###RESULT### inside\"}",
			want:   &Result{Success: true, Output: "has ###RESULT### inside"},
		},
		{
			name:   "size report",
			stream: "###RESULT###{\"success\":true,\"output\":\"\",\"size\":{\"program\":924,\"data\":9}}",
			want:   &Result{Success: true, Size: &SizeReport{Program: 924, Data: 9}},
		},
		{name: "missing marker", stream: "build log only", protoErr: true},
		{name: "empty stream", stream: "", protoErr: true},
		{name: "malformed json", stream: "###RESULT###{\"success\":", protoErr: true},
		{name: "not an object", stream: "###RESULT###[1,2]", protoErr: true},
		{name: "empty payload", stream: "log###RESULT###\n", protoErr: true},
		{name: "trailing data", stream: "###RESULT###{\"success\":true} {}", protoErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResult([]byte(tt.stream))
			if tt.protoErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrProtocol)
				assert.True(t, IsProtocolError(err))
				var pe *ProtocolError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, tt.stream, pe.Stream)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProtocolError_UnwrapsDecodeCause(t *testing.T) {
	_, err := DecodeResult([]byte("###RESULT###{\"success\":\"yes\"}"))
	require.Error(t, err)

	var typeErr *json.UnmarshalTypeError
	assert.ErrorAs(t, err, &typeErr)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestEncodeResult_RoundTripsThroughDecode(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("Compiling .pio/build/uno/src/main.ino.cpp.o\n")
	in := &Result{
		Success: true,
		Output:  "done",
		Size:    &SizeReport{Program: 1024, Data: 64},
	}
	require.NoError(t, EncodeResult(&buf, in))

	out, err := DecodeResult(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "done", out.Output)
	assert.Equal(t, in.Size, out.Size)
	assert.Contains(t, out.Log, "Compiling")

	require.Error(t, EncodeResult(&buf, nil))
}
