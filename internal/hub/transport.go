package hub

// Message is an inbound publish as delivered by the transport.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// TransportHandlers receive transport events. Implementations may call them
// from any goroutine; the hub serialises them onto its own loop.
type TransportHandlers struct {
	OnConnect        func()
	OnConnectError   func(err error)
	OnConnectionLost func(err error)
	OnReconnecting   func()
	OnMessage        func(msg Message)
}

// Transport is a broker connection. Every call returns immediately; outcomes
// arrive later through TransportHandlers or the done callbacks. done may be nil.
type Transport interface {
	Connect()
	Subscribe(topic string, qos byte, done func(error))
	Unsubscribe(topic string, done func(error))
	Publish(topic string, qos byte, retained bool, payload []byte, done func(error))
	Disconnect()
}

// TransportFactory builds a transport for one connection attempt.
type TransportFactory func(cfg ConnectionConfig, handlers TransportHandlers) (Transport, error)
