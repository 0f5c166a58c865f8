// Package marketdata broadcasts trade/book events to external
// subscribers — the "broadcasts market data" operation of spec §2/§4.5,
// stopping exactly at the boundary of the (out-of-scope) websocket
// gateway. Built on ThreeDotsLabs/watermill the way the teacher wires its
// event bus: an in-memory gochannel publisher for tests, a NATS publisher
// for a real deployment, both behind the same Broadcaster interface.
package marketdata

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/waiver-exchange/core/internal/types"
)

// Broadcaster publishes one symbol's tick event batch to market-data
// subscribers. Publish must not block the execution manager thread on
// slow subscribers — callers treat publish failures as non-fatal logging
// events, never as a reason to stall settlement.
type Broadcaster interface {
	Publish(ctx context.Context, tick uint64, symbolID int64, events []types.Event) error
	Close() error
}

func topicFor(symbolID int64) string {
	return "marketdata.symbol." + strconv.FormatInt(symbolID, 10)
}

// watermillBroadcaster adapts a message.Publisher into a Broadcaster,
// matching the eventToMessage marshalling the teacher's watermill adapter
// uses for its own event bus.
type watermillBroadcaster struct {
	pub    message.Publisher
	logger *zap.Logger
}

func (b *watermillBroadcaster) Publish(ctx context.Context, tick uint64, symbolID int64, events []types.Event) error {
	payload, err := json.Marshal(struct {
		Tick     uint64        `json:"tick"`
		SymbolID int64         `json:"symbol_id"`
		Events   []types.Event `json:"events"`
	}{Tick: tick, SymbolID: symbolID, Events: events})
	if err != nil {
		return err
	}
	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set("symbol_id", strconv.FormatInt(symbolID, 10))
	return b.pub.Publish(topicFor(symbolID), msg)
}

func (b *watermillBroadcaster) Close() error {
	return b.pub.Close()
}

// NewInMemory builds a Broadcaster over an in-process gochannel
// publisher — used in tests and single-process deployments, grounded on
// the teacher's WatermillEventBus's gochannel wiring.
func NewInMemory(logger *zap.Logger) Broadcaster {
	wmLogger := watermill.NewStdLoggerWithOut(zap.NewStdLog(logger).Writer(), false, false)
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024, Persistent: false}, wmLogger)
	return &watermillBroadcaster{pub: pubSub, logger: logger}
}

// NewNATS builds a Broadcaster over a real NATS connection via
// watermill-nats, for a production deployment.
func NewNATS(natsURL string, logger *zap.Logger) (Broadcaster, error) {
	wmLogger := watermill.NewStdLoggerWithOut(zap.NewStdLog(logger).Writer(), false, false)
	pub, err := nats.NewPublisher(nats.PublisherConfig{
		URL:         natsURL,
		NatsOptions: []natsgo.Option{natsgo.Name("waiver-exchange-marketdata")},
		Marshaler:   &nats.GobMarshaler{},
	}, wmLogger)
	if err != nil {
		return nil, err
	}
	return &watermillBroadcaster{pub: pub, logger: logger}, nil
}
