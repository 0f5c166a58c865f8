package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/types"
)

func TestTopicForIsStablePerSymbol(t *testing.T) {
	assert.Equal(t, "marketdata.symbol.764", topicFor(764))
	assert.Equal(t, "marketdata.symbol.1", topicFor(1))
}

func TestBroadcastDeliversToSubscriber(t *testing.T) {
	logger := zap.NewNop()
	wmLogger := watermill.NopLogger{}
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, wmLogger)
	defer pubSub.Close()

	b := &watermillBroadcaster{pub: pubSub, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := pubSub.Subscribe(ctx, topicFor(764))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, 1, 764, []types.Event{
		{Kind: types.EventTradeExecuted, SymbolID: 764, Tick: 1},
	}))

	select {
	case msg := <-msgs:
		assert.Contains(t, string(msg.Payload), "\"symbol_id\":764")
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}
