package stdlib

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kaubo/internal/object"
	"kaubo/internal/value"
	"kaubo/internal/vm"
)

// wsHandles backs net module connection handles with the same
// opaque-Native trick dbHandles uses, so a websocket connection
// doesn't need its own heap kind (see SPEC_FULL's net module note).
var (
	wsMu      sync.Mutex
	wsHandles = make(map[*object.Native]*websocket.Conn)
)

// registerNet installs the net module: ws_connect/ws_send/ws_recv/
// ws_close over gorilla/websocket, grounded in the teacher's
// internal/network/websocket.go (dial, send, connection registry) and
// internal/vm/network_websocket.go (builtin wiring).
func registerNet(v *vm.VM) {
	mod := object.NewModule("net")
	mod.Export("ws_connect", object.NewNative("net.ws_connect", 1, wsConnect).Value())
	mod.Export("ws_send", object.NewNative("net.ws_send", 2, wsSend).Value())
	mod.Export("ws_recv", object.NewNative("net.ws_recv", 1, wsRecv).Value())
	mod.Export("ws_close", object.NewNative("net.ws_close", 1, wsClose).Value())
	v.DefineGlobal("net", mod.Value())
}

func wsConnect(args []value.Value) (value.Value, error) {
	url, err := argString(args[0], "url")
	if err != nil {
		return value.Nil(), err
	}

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return value.Nil(), fmt.Errorf("net.ws_connect: %w", err)
	}

	handle := object.NewNative("ws_handle", object.VariadicArity, notCallable("websocket connection"))
	wsMu.Lock()
	wsHandles[handle] = conn
	wsMu.Unlock()
	return handle.Value(), nil
}

func wsSend(args []value.Value) (value.Value, error) {
	conn, err := wsConn(args[0])
	if err != nil {
		return value.Nil(), err
	}
	msg, err := argString(args[1], "message")
	if err != nil {
		return value.Nil(), err
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return value.Nil(), fmt.Errorf("net.ws_send: %w", err)
	}
	return value.Nil(), nil
}

func wsRecv(args []value.Value) (value.Value, error) {
	conn, err := wsConn(args[0])
	if err != nil {
		return value.Nil(), err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return value.Nil(), fmt.Errorf("net.ws_recv: %w", err)
	}
	return object.NewString(string(data)).Value(), nil
}

func wsClose(args []value.Value) (value.Value, error) {
	conn, err := wsConn(args[0])
	if err != nil {
		return value.Nil(), err
	}
	wsMu.Lock()
	delete(wsHandles, object.AsNative(args[0]))
	wsMu.Unlock()
	return value.Nil(), conn.Close()
}

func wsConn(v value.Value) (*websocket.Conn, error) {
	native, err := argNative(v, "websocket handle")
	if err != nil {
		return nil, err
	}
	wsMu.Lock()
	conn, ok := wsHandles[native]
	wsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("stale or already-closed websocket handle")
	}
	return conn, nil
}
