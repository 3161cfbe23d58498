// Package mqtt adapts the paho client to the hub transport interface
package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/haadziqf/iot-hub-control-dashboard/internal/hub"
)

const (
	// opTimeout bounds how long a subscribe/publish token may stay pending
	opTimeout = 10 * time.Second

	// subackFailure is the SUBACK return code for a rejected subscription
	subackFailure = 0x80
)

// ErrTimeout is reported when the broker does not answer an operation in time
var ErrTimeout = errors.New("mqtt operation timed out")

// Client wraps a paho client and forwards its events to hub handlers
type Client struct {
	client   paho.Client
	config   hub.ConnectionConfig
	handlers hub.TransportHandlers
	logger   zerolog.Logger
}

// NewFactory returns a hub.TransportFactory producing paho clients
func NewFactory(logger zerolog.Logger) hub.TransportFactory {
	return func(cfg hub.ConnectionConfig, h hub.TransportHandlers) (hub.Transport, error) {
		return New(cfg, h, logger)
	}
}

// New creates a client for cfg. Nothing is sent until Connect is called.
func New(cfg hub.ConnectionConfig, h hub.TransportHandlers, logger zerolog.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("MQTT broker host is required")
	}

	c := &Client{
		config:   cfg,
		handlers: h,
		logger:   logger.With().Str("broker", cfg.BrokerURL()).Str("client_id", cfg.ClientID).Logger(),
	}
	c.client = paho.NewClient(buildOptions(cfg, h, c.logger))
	return c, nil
}

// buildOptions maps the connection profile onto paho options
func buildOptions(cfg hub.ConnectionConfig, h hub.TransportHandlers, logger zerolog.Logger) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	if cfg.Scheme == hub.SchemeWSS || cfg.Scheme == hub.SchemeSSL {
		opts.SetTLSConfig(&tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	}

	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Debug().Msg("broker session established")
		if h.OnConnect != nil {
			h.OnConnect()
		}
	})

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Debug().Err(err).Msg("broker connection lost")
		if h.OnConnectionLost != nil {
			h.OnConnectionLost(err)
		}
	})

	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		logger.Debug().Msg("attempting to reconnect")
		if h.OnReconnecting != nil {
			h.OnReconnecting()
		}
	})

	opts.SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
		if h.OnMessage == nil {
			return
		}
		h.OnMessage(hub.Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			QoS:      m.Qos(),
			Retained: m.Retained(),
		})
	})

	// Auto-reconnect settings
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetConnectTimeout(opTimeout)

	// Keep alive settings
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetCleanSession(true)
	// Messages reach the hub one at a time, in delivery order
	opts.SetOrderMatters(true)

	return opts
}

// Connect starts the initial connection attempt. A failure is reported
// through OnConnectError; later drops are retried by paho.
func (c *Client) Connect() {
	token := c.client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.logger.Debug().Err(err).Msg("initial connect failed")
			if c.handlers.OnConnectError != nil {
				c.handlers.OnConnectError(err)
			}
		}
	}()
}

// Subscribe requests topic and reports the SUBACK through done
func (c *Client) Subscribe(topic string, qos byte, done func(error)) {
	token := c.client.Subscribe(topic, qos, nil)
	go complete(token, done, func() error {
		if st, ok := token.(*paho.SubscribeToken); ok {
			if code, found := st.Result()[topic]; found && code == subackFailure {
				return fmt.Errorf("broker rejected subscription to %q", topic)
			}
		}
		return nil
	})
}

// Unsubscribe removes topic and reports the UNSUBACK through done
func (c *Client) Unsubscribe(topic string, done func(error)) {
	go complete(c.client.Unsubscribe(topic), done, nil)
}

// Publish sends payload and reports completion through done
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte, done func(error)) {
	go complete(c.client.Publish(topic, qos, retained, payload), done, nil)
}

// Disconnect closes the connection, waiting up to 250ms for in-flight work
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.logger.Debug().Msg("disconnected from broker")
}

// complete waits for token and hands its outcome to done. check runs only
// when the token itself succeeded.
func complete(token paho.Token, done func(error), check func() error) {
	var err error
	select {
	case <-token.Done():
		err = token.Error()
		if err == nil && check != nil {
			err = check()
		}
	case <-time.After(opTimeout):
		err = ErrTimeout
	}

	if done != nil {
		done(err)
	}
}
