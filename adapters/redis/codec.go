package redis

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// payloadField 為 stream 訊息中存放 msgpack 內容的欄位
const payloadField = "data"

var (
	ErrPointerType      = errors.New("pointer type is not allowed")
	ErrMalformedMessage = errors.New("malformed stream message")
)

// DefaultParseToMessage 以 msgpack 編碼資料，放進 stream 訊息的 data 欄位
func DefaultParseToMessage[T any](data T) (map[string]any, error) {
	if reflect.TypeFor[T]().Kind() == reflect.Pointer {
		return nil, ErrPointerType
	}
	payload, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return map[string]any{payloadField: payload}, nil
}

// DefaultParseFromMessage 解碼 DefaultParseToMessage 產生的訊息
// redis 回傳的欄位值為字串，直接建立的訊息則是 []byte
func DefaultParseFromMessage[T any](message map[string]any) (T, error) {
	var result T
	if reflect.TypeFor[T]().Kind() == reflect.Pointer {
		return result, ErrPointerType
	}

	var payload []byte
	switch v := message[payloadField].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	case nil:
		return result, fmt.Errorf("%w: missing %s field", ErrMalformedMessage, payloadField)
	default:
		return result, fmt.Errorf("%w: %s field is %T", ErrMalformedMessage, payloadField, v)
	}
	if err := msgpack.Unmarshal(payload, &result); err != nil {
		return result, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return result, nil
}
