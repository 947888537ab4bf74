package transport

import (
	"context"

	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/status"
	"go.uber.org/zap"
)

// wireEvents is every inbound event the bridge forwards onto the bus.
var wireEvents = []string{
	EventJoinRoomSuccess,
	EventJoinRoomError,
	EventJoinAllRoomsSuccess,
	EventMessageSent,
	EventMessageReceived,
	EventMessageStatusUpdated,
	EventMessageError,
	EventGetMessagesSuccess,
	EventTypingStarted,
	EventTypingStopped,
	EventContactStatusUpdate,
	EventGetContactsSuccess,
	EventGetContactsError,
	EventContactsChanged,
	EventContactProfileUpdated,
}

// WireKind returns the bus kind for an inbound wire event name.
func WireKind(event string) string {
	return bus.KindWirePrefix + event
}

// Bridge connects the socket client to the rest of the core. Inbound frames
// become bus events under "wire.<event>" carrying their typed payloads, so
// domain components subscribe to the bus instead of holding the client. The
// bridge also drives the session state machine from transport lifecycle
// events; it never calls any domain component directly.
type Bridge struct {
	client  *Client
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewBridge creates a bridge for the given client and state machine.
func NewBridge(client *Client, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Bridge {
	return &Bridge{
		client:  client,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Start registers the wire handlers and begins driving the state machine.
func (br *Bridge) Start(ctx context.Context) {
	for _, event := range wireEvents {
		kind := WireKind(event)
		br.client.On(event, func(payload any) {
			br.bus.Emit(kind, payload)
		})
	}

	ctx, br.cancel = context.WithCancel(ctx)
	ch, unsubTransport := br.bus.Subscribe("transport.", 16)
	expired, unsubSession := br.bus.Subscribe(bus.KindSessionExpired, 4)

	go func() {
		defer unsubTransport()
		defer unsubSession()
		for {
			select {
			case evt := <-ch:
				br.handleLifecycle(evt)
			case <-expired:
				if err := br.machine.Transition(status.AuthRequired); err != nil {
					br.logger.Warn("state transition rejected", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop deregisters all wire handlers.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
	}
	for _, event := range wireEvents {
		br.client.Off(event)
	}
}

func (br *Bridge) handleLifecycle(evt bus.Event) {
	switch evt.Kind {
	case bus.KindTransportConnected:
		if err := br.machine.Transition(status.Connected); err != nil {
			br.logger.Warn("state transition rejected", zap.Error(err))
		}
	case bus.KindTransportDisconnected:
		current := br.machine.Current()
		if current == status.Connected || current == status.Connecting {
			if err := br.machine.Transition(status.Disconnected); err != nil {
				br.logger.Warn("state transition rejected", zap.Error(err))
			}
		}
	}
}
