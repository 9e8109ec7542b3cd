package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParseMessage(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		msg := newBidMessage()

		values, err := DefaultParseToMessage(msg)
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.IsType(t, []byte{}, values["data"])

		parsed, err := DefaultParseFromMessage[roomMessage](values)
		require.NoError(t, err)
		assert.Equal(t, msg, parsed)
	})

	t.Run("value read back from redis", func(t *testing.T) {
		msg := newBidMessage()
		values, err := DefaultParseToMessage(msg)
		require.NoError(t, err)

		// redis 以字串回傳欄位值
		parsed, err := DefaultParseFromMessage[roomMessage](map[string]any{"data": string(values["data"].([]byte))})
		require.NoError(t, err)
		assert.Equal(t, msg, parsed)
	})

	t.Run("pointer type is rejected", func(t *testing.T) {
		msg := newBidMessage()
		_, err := DefaultParseToMessage(&msg)
		assert.ErrorIs(t, err, ErrPointerType)

		_, err = DefaultParseFromMessage[*roomMessage](map[string]any{"data": ""})
		assert.ErrorIs(t, err, ErrPointerType)
	})

	tests := []struct {
		name    string
		message map[string]any
		errMsg  string
	}{
		{name: "empty message", message: map[string]any{}, errMsg: "missing data field"},
		{name: "missing data field", message: map[string]any{"payload": "x"}, errMsg: "missing data field"},
		{name: "unexpected type", message: map[string]any{"data": 42}, errMsg: "data field is int"},
		{name: "invalid msgpack", message: map[string]any{"data": string([]byte{0xc1})}, errMsg: "malformed stream message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DefaultParseFromMessage[roomMessage](tt.message)
			assert.ErrorIs(t, err, ErrMalformedMessage)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
