package room

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	colyseus "github.com/coly-io/colyseus-go"
	"github.com/coly-io/colyseus-go/transport"
)

type dummyState struct {
	Score int32 `colyseus:"0,score,int32"`
}

type fakeTransport struct {
	events    transport.Events
	sent      [][]byte
	open      bool
	closeCode int
}

func (f *fakeTransport) Connect(ctx context.Context, url string, header http.Header) error {
	f.open = true
	if f.events.OnOpen != nil {
		f.events.OnOpen()
	}
	return nil
}
func (f *fakeTransport) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeTransport) SendUnreliable(data []byte) error { return f.Send(data) }
func (f *fakeTransport) Close(code int, reason string) error {
	f.open = false
	f.closeCode = code
	return nil
}
func (f *fakeTransport) IsOpen() bool { return f.open }

func newTestRoom(t *testing.T) (*Room, *fakeTransport) {
	t.Helper()
	var tr *fakeTransport
	factory := func(events transport.Events) transport.Transport {
		tr = &fakeTransport{events: events}
		return tr
	}
	r := New("dummy", colyseus.RegisterStatic(dummyState{}), factory)
	require.NoError(t, r.Connect(context.Background(), "ws://example.invalid/"))
	return r, tr
}

func TestRoomConnectInvokesFactoryAndOpensTransport(t *testing.T) {
	r, tr := newTestRoom(t)
	assert.True(t, tr.IsOpen())
	assert.NotNil(t, r.State())
}

func TestRoomHandleJoinRoomSetsStateAndFiresOnJoin(t *testing.T) {
	r, _ := newTestRoom(t)
	fired := false
	r.OnJoin = func() { fired = true }

	body := []byte{0xa6, 't', 'o', 'k', 'e', 'n', '1'} // fixstr "token1"
	r.handleMessage(append([]byte{ProtocolJoinRoom}, body...))

	assert.True(t, fired)
	assert.Equal(t, "token1", r.reconnectionToken)
}

func TestRoomHandleErrorFrameFiresOnError(t *testing.T) {
	r, _ := newTestRoom(t)
	var gotCode int
	var gotMsg string
	r.OnError = func(code int, message string) { gotCode = code; gotMsg = message }

	body := []byte{0x04, 0xa3, 'b', 'a', 'd'} // code=4 (fixint), message="bad"
	r.handleMessage(append([]byte{ProtocolError}, body...))

	assert.Equal(t, 4, gotCode)
	assert.Equal(t, "bad", gotMsg)
}

func TestRoomHandleRoomDataDispatchesToTypedHandler(t *testing.T) {
	r, _ := newTestRoom(t)
	var gotType string
	var gotBody []byte
	r.OnMessage("move", func(data []byte) { gotType = "move"; gotBody = data })

	typeBytes := []byte{0xa4, 'm', 'o', 'v', 'e'} // fixstr "move"
	payload := []byte{0x01, 0x02, 0x03}
	body := append(append([]byte{}, typeBytes...), payload...)
	r.handleMessage(append([]byte{ProtocolRoomData}, body...))

	assert.Equal(t, "move", gotType)
	assert.Equal(t, payload, gotBody)
}

func TestRoomHandleRoomDataBytesDispatchesByTypeByte(t *testing.T) {
	r, _ := newTestRoom(t)
	var gotBody []byte
	r.OnMessageByte(7, func(data []byte) { gotBody = data })

	r.handleMessage([]byte{ProtocolRoomDataBytes, 7, 0xAA, 0xBB})
	assert.Equal(t, []byte{0xAA, 0xBB}, gotBody)
}

func TestRoomSendFramesWithRoomDataProtocol(t *testing.T) {
	r, tr := newTestRoom(t)
	require.NoError(t, r.Send("ping", []byte{0x01}))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, ProtocolRoomData, tr.sent[0][0])
}

func TestRoomSendByteFramesWithRoomDataBytesProtocol(t *testing.T) {
	r, tr := newTestRoom(t)
	require.NoError(t, r.SendByte(3, []byte{0x01}))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, ProtocolRoomDataBytes, tr.sent[0][0])
	assert.Equal(t, byte(3), tr.sent[0][1])
}

func TestRoomHandleStateDecodesAndFiresOnStateChange(t *testing.T) {
	r, _ := newTestRoom(t)
	fired := false
	r.OnStateChange = func() { fired = true }

	frame := []byte{0x00, 0x05} // REPLACE field 0 (score), fixint 5
	r.handleMessage(append([]byte{ProtocolRoomState}, frame...))

	assert.True(t, fired)
	score, ok := r.State().GetByName("score")
	require.True(t, ok)
	assert.Equal(t, int32(5), score)
}

func TestRoomLeaveClosesTransportWithConsentedCode(t *testing.T) {
	r, tr := newTestRoom(t)
	require.NoError(t, r.Leave(true))
	assert.False(t, tr.IsOpen())
	assert.Equal(t, CloseConsented, tr.closeCode)
}

func TestRoomCloseWithDevRestartCodeInvokesOnDevModeRestartInstead(t *testing.T) {
	r, tr := newTestRoom(t)

	var onLeaveCalled bool
	var restartToken string
	r.OnLeave = func(code int, reason string) { onLeaveCalled = true }
	r.OnDevModeRestart = func(reconnectionToken string) { restartToken = reconnectionToken }
	r.reconnectionToken = "stored-token"

	tr.events.OnClose(CloseDevRestart, "restarting")

	assert.Equal(t, "stored-token", restartToken)
	assert.False(t, onLeaveCalled)
}

func TestRoomCloseWithDevRestartCodeFallsBackToOnLeaveWithoutHandler(t *testing.T) {
	r, tr := newTestRoom(t)

	var gotCode int
	r.OnLeave = func(code int, reason string) { gotCode = code }

	tr.events.OnClose(CloseDevRestart, "restarting")

	assert.Equal(t, CloseDevRestart, gotCode)
}
