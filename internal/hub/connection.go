package hub

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hay-kot/criterio"
)

// Supported broker URL schemes.
const (
	SchemeWS  = "ws://"
	SchemeWSS = "wss://"
	SchemeTCP = "tcp://"
	SchemeSSL = "ssl://"
)

var defaultPorts = map[string]int{
	SchemeWS:  8083,
	SchemeWSS: 8084,
	SchemeTCP: 1883,
	SchemeSSL: 8883,
}

// ConnectionConfig is the user-entered broker connection.
type ConnectionConfig struct {
	Scheme   string `json:"scheme" yaml:"scheme"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Path     string `json:"path" yaml:"path"`
	ClientID string `json:"clientId" yaml:"client_id"`
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
}

// DefaultPort returns the conventional port for scheme, or 0 if unknown.
func DefaultPort(scheme string) int {
	return defaultPorts[scheme]
}

// NewClientID returns a random client identifier of the form iothub_<8 hex>.
func NewClientID() string {
	return "iothub_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// WithDefaults fills the port, path and client id when left empty.
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	if c.Scheme == "" {
		c.Scheme = SchemeWSS
	}
	if c.Port == 0 {
		c.Port = DefaultPort(c.Scheme)
	}
	if c.Path == "" && (c.Scheme == SchemeWS || c.Scheme == SchemeWSS) {
		c.Path = "/mqtt"
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.ClientID == "" {
		c.ClientID = NewClientID()
	}
	return c
}

// BrokerURL composes scheme, host, port and path.
func (c ConnectionConfig) BrokerURL() string {
	return c.Scheme + c.Host + ":" + strconv.Itoa(c.Port) + c.Path
}

// Redacted returns a copy without the password.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	c.Password = ""
	return c
}

// Validate checks the connection fields.
func (c ConnectionConfig) Validate() error {
	var errs criterio.FieldErrorsBuilder

	if _, ok := defaultPorts[c.Scheme]; !ok {
		errs = errs.Append("scheme", fmt.Errorf("unsupported scheme %q", c.Scheme))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = errs.Append("host", fmt.Errorf("host is required"))
	} else if strings.ContainsAny(c.Host, "/: ") {
		errs = errs.Append("host", fmt.Errorf("host must not contain a scheme, port or path"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = errs.Append("port", fmt.Errorf("invalid port %d", c.Port))
	}
	if c.ClientID == "" {
		errs = errs.Append("clientId", fmt.Errorf("client id is required"))
	}
	if c.Password != "" && c.Username == "" {
		errs = errs.Append("username", fmt.Errorf("username is required when a password is set"))
	}

	return errs.ToError()
}
