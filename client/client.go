// Package client implements matchmaking over HTTP and room construction
// (SPEC_FULL.md §6), the thin application layer sitting on top of the
// transport and room packages.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	colyseus "github.com/coly-io/colyseus-go"
	"github.com/coly-io/colyseus-go/room"
	"github.com/coly-io/colyseus-go/transport"
)

// Settings configures a Client, grounded on original_source's Settings
// header (Hostname/Port/UseSSL/PathPrefix) plus the ambient fields this
// module's complete rendition needs (HTTPTimeout, DialTimeout,
// DecodeLimits). The logger is not a Settings field; it is supplied with
// the WithLogger option.
type Settings struct {
	Hostname     string
	Port         int
	UseSSL       bool
	PathPrefix   string
	HTTPTimeout  time.Duration
	DialTimeout  time.Duration
	DecodeLimits colyseus.DecodeLimits
}

func (s Settings) withDefaults() Settings {
	if s.HTTPTimeout == 0 {
		s.HTTPTimeout = 30 * time.Second // §5's recommended matchmaking timeout
	}
	if s.DialTimeout == 0 {
		s.DialTimeout = 10 * time.Second
	}
	if s.DecodeLimits == (colyseus.DecodeLimits{}) {
		s.DecodeLimits = colyseus.DefaultLimits
	}
	return s
}

// TransportFactory builds a transport.Transport wired to events. The default
// produces a transport.WebSocketTransport.
type TransportFactory = room.TransportFactory

// SeatReservation is the JSON matchmaking reply described in §6.
type SeatReservation struct {
	SessionID         string `json:"sessionId"`
	ReconnectionToken string `json:"reconnectionToken"`
	Room              struct {
		RoomID        string `json:"roomId"`
		Name          string `json:"name"`
		ProcessID     string `json:"processId"`
		PublicAddress string `json:"publicAddress"`
	} `json:"room"`
	DevMode  bool   `json:"devMode"`
	Protocol string `json:"protocol"`
}

// MatchmakeError is the parsed {code, message} body of a 4xx/5xx
// matchmaking HTTP reply, per §7.2.
type MatchmakeError struct {
	Code    int
	Message string
}

func (e *MatchmakeError) Error() string {
	return fmt.Sprintf("colyseus: matchmake error %d: %s", e.Code, e.Message)
}

// Client performs matchmaking over HTTP and constructs a room.Room per
// joined room, grounded on original_source/include/colyseus/client.h's
// Client (joinOrCreate/create/join/joinById/reconnect, SeatReservation
// consumption, endpoint construction).
type Client struct {
	settings         Settings
	httpClient       *http.Client
	transportFactory TransportFactory
	logger           *zap.Logger
}

// Option configures a Client at construction — the idiomatic Go analogue
// of original_source's constructor-injected TransportFactory parameter.
type Option func(*Client)

// WithLogger attaches a structured logger, threaded through to every Room
// and Transport this Client constructs.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTransportFactory overrides the default WebSocket transport.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Client) { c.transportFactory = f }
}

// WithHTTPClient overrides the http.Client used for matchmaking requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New constructs a Client against settings.
func New(settings Settings, opts ...Option) *Client {
	settings = settings.withDefaults()
	c := &Client{
		settings:   settings,
		httpClient: &http.Client{Timeout: settings.HTTPTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transportFactory == nil {
		logger := c.logger
		c.transportFactory = func(events transport.Events) transport.Transport {
			return transport.NewWebSocketTransport(events,
				transport.WithLogger(logger),
				transport.WithDialTimeout(settings.DialTimeout))
		}
	}
	return c
}

// JoinOrCreate joins an existing room of roomName or creates one.
func (c *Client) JoinOrCreate(ctx context.Context, roomName string, options map[string]any, rootDescriptor colyseus.Descriptor) (*room.Room, error) {
	return c.matchmake(ctx, "joinOrCreate", roomName, options, rootDescriptor)
}

// Create always creates a new room of roomName.
func (c *Client) Create(ctx context.Context, roomName string, options map[string]any, rootDescriptor colyseus.Descriptor) (*room.Room, error) {
	return c.matchmake(ctx, "create", roomName, options, rootDescriptor)
}

// Join joins an existing room of roomName, failing if none is available.
func (c *Client) Join(ctx context.Context, roomName string, options map[string]any, rootDescriptor colyseus.Descriptor) (*room.Room, error) {
	return c.matchmake(ctx, "join", roomName, options, rootDescriptor)
}

// JoinByID joins the specific room named by roomID.
func (c *Client) JoinByID(ctx context.Context, roomID string, options map[string]any, rootDescriptor colyseus.Descriptor) (*room.Room, error) {
	return c.matchmake(ctx, "joinById", roomID, options, rootDescriptor)
}

// Reconnect resumes a session using a token obtained from a prior
// JOIN_ROOM frame or a dev-mode restart close (§6).
func (c *Client) Reconnect(ctx context.Context, reconnectionToken string, rootDescriptor colyseus.Descriptor) (*room.Room, error) {
	return c.matchmake(ctx, "reconnect", reconnectionToken, nil, rootDescriptor)
}

func (c *Client) matchmake(ctx context.Context, method, name string, options map[string]any, rootDescriptor colyseus.Descriptor) (*room.Room, error) {
	if options == nil {
		options = map[string]any{}
	}
	body, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("colyseus: encode matchmake options: %w", err)
	}

	endpoint := c.httpEndpoint(fmt.Sprintf("matchmake/%s/%s", method, url.PathEscape(name)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("matchmake request failed", zap.String("method", method), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &errBody)
		return nil, &MatchmakeError{Code: errBody.Code, Message: errBody.Message}
	}

	var reservation SeatReservation
	if err := json.Unmarshal(respBody, &reservation); err != nil {
		return nil, fmt.Errorf("colyseus: decode seat reservation: %w", err)
	}

	return c.consumeSeatReservation(ctx, reservation, rootDescriptor)
}

func (c *Client) consumeSeatReservation(ctx context.Context, reservation SeatReservation, rootDescriptor colyseus.Descriptor) (*room.Room, error) {
	rm := room.New(reservation.Room.Name, rootDescriptor, c.transportFactory, room.WithLogger(c.logger))
	rm.RoomID = reservation.Room.RoomID
	rm.SessionID = reservation.SessionID

	// Per §6's close-code table and SPEC_FULL.md §8 scenario 8, a dev-mode
	// restart (4010) reconnects transparently with the stored token rather
	// than surfacing OnLeave to the application.
	rm.OnDevModeRestart = func(reconnectionToken string) {
		c.logger.Info("dev-mode restart, reconnecting",
			zap.String("roomId", rm.RoomID), zap.String("roomName", rm.Name))
		if _, err := c.Reconnect(ctx, reconnectionToken, rootDescriptor); err != nil {
			c.logger.Error("dev-mode reconnect failed", zap.Error(err))
			if rm.OnError != nil {
				rm.OnError(0, err.Error())
			}
		}
	}

	endpoint := c.wsEndpoint(reservation)
	if err := rm.Connect(ctx, endpoint); err != nil {
		return nil, err
	}
	return rm, nil
}

func (c *Client) scheme(ws bool) string {
	switch {
	case ws && c.settings.UseSSL:
		return "wss"
	case ws:
		return "ws"
	case c.settings.UseSSL:
		return "https"
	default:
		return "http"
	}
}

func (c *Client) httpEndpoint(segments string) string {
	return fmt.Sprintf("%s://%s%s/%s", c.scheme(false), c.hostPort(), c.settings.PathPrefix, segments)
}

func (c *Client) wsEndpoint(reservation SeatReservation) string {
	q := url.Values{}
	q.Set("sessionId", reservation.SessionID)
	q.Set("reconnectionToken", reservation.ReconnectionToken)
	return fmt.Sprintf("%s://%s%s/%s/%s?%s",
		c.scheme(true), c.hostPort(), c.settings.PathPrefix,
		reservation.Room.ProcessID, reservation.Room.RoomID, q.Encode())
}

func (c *Client) hostPort() string {
	if c.settings.Port == 0 {
		return c.settings.Hostname
	}
	return c.settings.Hostname + ":" + strconv.Itoa(c.settings.Port)
}
