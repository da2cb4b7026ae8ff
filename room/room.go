// Package room implements the ingress demux and messaging surface of a
// joined Colyseus room (SPEC_FULL.md §6), sitting between the transport and
// the core decoder.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	colyseus "github.com/coly-io/colyseus-go"
	"github.com/coly-io/colyseus-go/transport"
)

// Protocol codes, per SPEC_FULL.md §6's room-ingress framing table. The
// first byte of every inbound non-control frame carries one of these.
const (
	ProtocolHandshake      byte = 9
	ProtocolJoinRoom       byte = 10
	ProtocolError          byte = 11
	ProtocolLeaveRoom      byte = 12
	ProtocolRoomData       byte = 13
	ProtocolRoomState      byte = 14
	ProtocolRoomStatePatch byte = 15
	ProtocolRoomDataSchema byte = 16
	ProtocolRoomDataBytes  byte = 17
)

// Close codes, per §6.
const (
	CloseConsented  = 4000
	CloseDevRestart = 4010
)

// TransportFactory builds a Transport wired to events, letting a Room (or
// the client layer constructing it) choose the concrete transport without
// this package depending on any one implementation's constructor.
type TransportFactory func(events transport.Events) transport.Transport

// Room demuxes inbound frames by protocol code, owns one colyseus.Decoder
// and one transport.Transport, and exposes the func-field signal pattern
// grounded on original_source/include/colyseus/room.h's Signal<T> template
// — a settable func field is the idiomatic Go rendition of a signal with
// at most one subscriber per event, the same trade original_source's own
// Signal<T> makes (connect() overwrites, it does not append).
type Room struct {
	Name              string
	RoomID            string
	SessionID         string
	reconnectionToken string

	rootDescriptor   colyseus.Descriptor
	decoder          *colyseus.Decoder
	decoderOpts      []colyseus.DecoderOption
	callbacks        *colyseus.CallbackManager
	transportFactory TransportFactory
	tr               transport.Transport
	logger           *zap.Logger

	mu              sync.Mutex
	messageHandlers map[string]func([]byte)
	byteHandlers    map[byte]func([]byte)
	anyHandler      func(messageType string, data []byte)

	hasJoined bool

	OnJoin            func()
	OnError           func(code int, message string)
	OnLeave           func(code int, reason string)
	OnStateChange     func()
	OnRoomDataSchema  func(refID uint32, body []byte)

	// OnDevModeRestart intercepts a close with code CloseDevRestart (§6):
	// when set, it is invoked with the room's stored reconnection token
	// instead of OnLeave, so the owning Client can attempt Client.Reconnect
	// transparently. Left nil, a dev-mode restart falls through to OnLeave
	// like any other close.
	OnDevModeRestart func(reconnectionToken string)
}

// Option configures a Room at construction.
type Option func(*Room)

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Room) { r.logger = l }
}

// WithDecoderOptions forwards options to the underlying colyseus.Decoder.
func WithDecoderOptions(opts ...colyseus.DecoderOption) Option {
	return func(r *Room) {
		r.decoderOpts = append(r.decoderOpts, opts...)
	}
}

// New constructs a Room named name whose state tree is rooted at
// rootDescriptor, using factory to build its transport once Connect is
// called.
func New(name string, rootDescriptor colyseus.Descriptor, factory TransportFactory, opts ...Option) *Room {
	r := &Room{
		Name:             name,
		rootDescriptor:   rootDescriptor,
		transportFactory: factory,
		logger:           zap.NewNop(),
		messageHandlers:  make(map[string]func([]byte)),
		byteHandlers:     make(map[byte]func([]byte)),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.decoder = colyseus.NewDecoder(rootDescriptor, append(r.decoderOpts, colyseus.WithLogger(r.logger))...)
	r.callbacks = colyseus.NewCallbackManager(r.decoder)
	return r
}

// State returns the root state node, mirrored live by the room's decoder.
func (r *Room) State() *colyseus.Node { return r.decoder.State() }

// Callbacks returns the callback manager bound to this room's decoder, for
// registering listen/onAdd/onRemove/onChange handlers.
func (r *Room) Callbacks() *colyseus.CallbackManager { return r.callbacks }

// Connect dials endpoint and begins processing inbound frames.
func (r *Room) Connect(ctx context.Context, endpoint string) error {
	r.tr = r.transportFactory(transport.Events{
		OnOpen:    func() {},
		OnMessage: r.handleMessage,
		OnClose:   r.handleClose,
		OnError:   r.handleError,
	})
	return r.tr.Connect(ctx, endpoint, nil)
}

// Leave closes the underlying transport. consented selects between the
// client-initiated and abrupt close codes.
func (r *Room) Leave(consented bool) error {
	code := CloseConsented
	if !consented {
		code = 1006
	}
	return r.tr.Close(code, "")
}

// Send transmits a string-typed user message (ROOM_DATA).
func (r *Room) Send(messageType string, message []byte) error {
	typeBytes, err := msgpack.Marshal(messageType)
	if err != nil {
		return fmt.Errorf("colyseus: encode message type: %w", err)
	}
	frame := make([]byte, 0, 1+len(typeBytes)+len(message))
	frame = append(frame, ProtocolRoomData)
	frame = append(frame, typeBytes...)
	frame = append(frame, message...)
	return r.tr.Send(frame)
}

// SendByte transmits an int-typed user message (ROOM_DATA_BYTES).
func (r *Room) SendByte(messageType byte, message []byte) error {
	frame := make([]byte, 0, 2+len(message))
	frame = append(frame, ProtocolRoomDataBytes, messageType)
	frame = append(frame, message...)
	return r.tr.Send(frame)
}

// OnMessage registers a handler for string-typed user messages.
func (r *Room) OnMessage(messageType string, handler func(data []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageHandlers[messageType] = handler
}

// OnMessageByte registers a handler for int-typed user messages.
func (r *Room) OnMessageByte(messageType byte, handler func(data []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byteHandlers[messageType] = handler
}

// OnMessageAny registers a catch-all handler invoked for every string-typed
// user message, in addition to any type-specific handler.
func (r *Room) OnMessageAny(handler func(messageType string, data []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anyHandler = handler
}

func (r *Room) handleMessage(data []byte) {
	if len(data) == 0 {
		return
	}
	code := data[0]
	body := data[1:]

	switch code {
	case ProtocolHandshake:
		r.handleHandshake(body)
	case ProtocolJoinRoom:
		r.handleJoinRoom(body)
	case ProtocolError:
		r.handleErrorFrame(body)
	case ProtocolLeaveRoom:
		if r.OnLeave != nil {
			r.OnLeave(CloseConsented, "")
		}
	case ProtocolRoomData:
		r.handleRoomData(body)
	case ProtocolRoomState, ProtocolRoomStatePatch:
		r.handleState(body)
	case ProtocolRoomDataSchema:
		r.handleRoomDataSchema(body)
	case ProtocolRoomDataBytes:
		r.handleRoomDataBytes(body)
	default:
		r.logger.Warn("unrecognised protocol code", zap.Uint8("code", code))
	}
}

func (r *Room) handleHandshake(body []byte) {
	reflection, err := colyseus.DecodeHandshake(body)
	if err != nil {
		r.logger.Error("handshake decode failed", zap.Error(err))
		return
	}
	matched := colyseus.MatchHandshake(reflection, r.rootDescriptor)
	for serverTypeID, descriptor := range matched {
		r.decoder.RegisterType(serverTypeID, descriptor)
	}
}

func (r *Room) handleJoinRoom(body []byte) {
	reader := colyseus.NewReader(body)
	r.reconnectionToken = reader.ReadString()
	if reader.BytesLeft() > 0 {
		_ = reader.ReadString() // serializer id, unused: this client only speaks the schema serializer
	}
	r.hasJoined = true
	if r.OnJoin != nil {
		r.OnJoin()
	}
}

func (r *Room) handleErrorFrame(body []byte) {
	reader := colyseus.NewReader(body)
	code := int(reader.ReadUint64())
	message := ""
	if reader.BytesLeft() > 0 {
		message = reader.ReadString()
	}
	if r.OnError != nil {
		r.OnError(code, message)
	}
}

func (r *Room) handleRoomData(body []byte) {
	// The type string is msgpack-encoded exactly as Send produces it
	// (fixstr/str8/str16/str32), so the decoder's own msgpack-prefix
	// string reader parses it without needing the msgpack library here.
	reader := colyseus.NewReader(body)
	messageType := reader.ReadString()
	rest := body[reader.Position():]

	r.mu.Lock()
	handler := r.messageHandlers[messageType]
	any := r.anyHandler
	r.mu.Unlock()

	if handler != nil {
		handler(rest)
	}
	if any != nil {
		any(messageType, rest)
	}
}

func (r *Room) handleRoomDataBytes(body []byte) {
	if len(body) == 0 {
		return
	}
	messageType := body[0]
	rest := body[1:]

	r.mu.Lock()
	handler := r.byteHandlers[messageType]
	r.mu.Unlock()

	if handler != nil {
		handler(rest)
	}
}

func (r *Room) handleRoomDataSchema(body []byte) {
	reader := colyseus.NewReader(body)
	refID := uint32(reader.ReadUint64())
	rest := body[reader.Position():]
	if r.OnRoomDataSchema != nil {
		r.OnRoomDataSchema(refID, rest)
	}
}

func (r *Room) handleState(body []byte) {
	if _, err := r.decoder.Decode(body); err != nil {
		r.logger.Error("state decode failed", zap.Error(err))
		return
	}
	if r.OnStateChange != nil {
		r.OnStateChange()
	}
}

func (r *Room) handleClose(code int, reason string) {
	if code == CloseDevRestart && r.OnDevModeRestart != nil {
		r.OnDevModeRestart(r.reconnectionToken)
		return
	}
	if r.OnLeave != nil {
		r.OnLeave(code, reason)
	}
}

func (r *Room) handleError(err error) {
	if r.OnError != nil {
		r.OnError(0, err.Error())
	}
}
