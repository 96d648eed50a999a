package transport

// Handler receives transport events. Callbacks run on the transport's own
// goroutines and must not block.
type Handler interface {
	// OnConnect is called after every successful (re)connection. The session
	// is clean, so nothing is subscribed at this point.
	OnConnect()
	// OnConnectionLost is called when an established connection drops.
	OnConnectionLost(error)
	// OnMessage is called for each inbound message on a subscribed topic.
	OnMessage(topic string, payload []byte)
}

type HandlerFuncs struct {
	OnConnectFunc        func()
	OnConnectionLostFunc func(error)
	OnMessageFunc        func(string, []byte)
}

func (fn *HandlerFuncs) OnConnect() {
	if fn.OnConnectFunc != nil {
		fn.OnConnectFunc()
	}
}

func (fn *HandlerFuncs) OnConnectionLost(err error) {
	if fn.OnConnectionLostFunc != nil {
		fn.OnConnectionLostFunc(err)
	}
}

func (fn *HandlerFuncs) OnMessage(topic string, payload []byte) {
	if fn.OnMessageFunc != nil {
		fn.OnMessageFunc(topic, payload)
	}
}
