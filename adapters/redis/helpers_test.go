package redis

import (
	"io"
	"log"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetOutput(io.Discard)
}

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// roomMessage 模擬透過 stream 轉送給 SSE 房間的事件
type roomMessage struct {
	Room string `msgpack:"room"`
	Name string `msgpack:"name"`
	Data []byte `msgpack:"data"`
}

func newBidMessage() roomMessage {
	return roomMessage{
		Room: "auction:0192f1a0-0000-7000-8000-000000000001",
		Name: "auction.new-bid",
		Data: []byte(`{"amountCents":1500}`),
	}
}
