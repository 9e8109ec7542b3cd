package redis

import (
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	_, err := NewConsumer[roomMessage](nil, "market-events")
	assert.ErrorContains(t, err, "redis client cannot be nil")

	client := redis.NewClient(&redis.Options{})
	defer client.Close()
	_, err = NewConsumer[roomMessage](client, "")
	assert.ErrorContains(t, err, "stream cannot be empty")

	consumer, err := NewConsumer[roomMessage](client, "market-events")
	require.NoError(t, err)
	consumer.Close()
}

func TestConsumer_Subscribe(t *testing.T) {
	t.Run("delivers decoded message", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		msg := newBidMessage()
		values, err := DefaultParseToMessage(msg)
		require.NoError(t, err)
		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"market-events", "$"},
			Count:   64,
			Block:   time.Second,
		}).SetVal([]redis.XStream{{
			Stream:   "market-events",
			Messages: []redis.XMessage{{ID: "1700000000000-0", Values: values}},
		}})

		consumer, err := NewConsumer[roomMessage](client, "market-events")
		require.NoError(t, err)
		consumer.Start()
		consumer.Start()
		defer consumer.Close()

		select {
		case received := <-consumer.Subscribe():
			assert.Equal(t, msg, received)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("replays from start id", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"market-events", "0"},
			Count:   64,
			Block:   time.Second,
		}).SetErr(redis.Nil)

		consumer, err := NewConsumer[roomMessage](client, "market-events", WithConsumerStartID[roomMessage]("0"))
		require.NoError(t, err)
		consumer.Start()
		time.Sleep(100 * time.Millisecond)
		consumer.Close()
		consumer.Close()
	})

	t.Run("unparsable message is skipped", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"market-events", "$"},
			Count:   64,
			Block:   time.Second,
		}).SetVal([]redis.XStream{{
			Stream:   "market-events",
			Messages: []redis.XMessage{{ID: "1700000000000-0", Values: map[string]any{"data": true}}},
		}})

		consumer, err := NewConsumer[roomMessage](client, "market-events",
			WithConsumerParseFunc[roomMessage](func(map[string]any) (roomMessage, error) {
				return roomMessage{}, fmt.Errorf("failed to parse message")
			}))
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		select {
		case <-consumer.Subscribe():
			t.Fatal("should not receive invalid message")
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("redis error keeps consumer running", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXRead(&redis.XReadArgs{
			Streams: []string{"market-events", "$"},
			Count:   64,
			Block:   time.Second,
		}).SetErr(redis.ErrClosed)

		consumer, err := NewConsumer[roomMessage](client, "market-events")
		require.NoError(t, err)
		consumer.Start()
		time.Sleep(100 * time.Millisecond)
		consumer.Close()
	})
}

func TestConsumer_Batch(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	first, second := newBidMessage(), newBidMessage()
	second.Name = "auction.outbid"
	firstValues, err := DefaultParseToMessage(first)
	require.NoError(t, err)
	secondValues, err := DefaultParseToMessage(second)
	require.NoError(t, err)

	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{"market-events", "$"},
		Count:   2,
		Block:   time.Second,
	}).SetVal([]redis.XStream{{
		Stream: "market-events",
		Messages: []redis.XMessage{
			{ID: "1700000000000-0", Values: firstValues},
			{ID: "1700000000000-1", Values: secondValues},
		},
	}})
	// 下一次讀取從批次中最後一筆訊息之後開始
	mock.ExpectXRead(&redis.XReadArgs{
		Streams: []string{"market-events", "1700000000000-1"},
		Count:   2,
		Block:   time.Second,
	}).SetErr(redis.Nil)

	consumer, err := NewConsumer[roomMessage](client, "market-events", WithConsumerBatchSize[roomMessage](2))
	require.NoError(t, err)
	consumer.Start()
	defer consumer.Close()

	for _, want := range []roomMessage{first, second} {
		select {
		case received := <-consumer.Subscribe():
			assert.Equal(t, want, received)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
	time.Sleep(100 * time.Millisecond)
}
