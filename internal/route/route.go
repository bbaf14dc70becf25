package route

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is an (IP, port) pair. It is comparable and used as the registry key.
type Endpoint struct {
	IP   string
	Port uint16
}

// String renders the endpoint as host:port, bracketing IPv6 addresses.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(int(e.Port)))
}

// Route is a single forwarding intent from a public endpoint to an internal
// destination. Its fields cannot be changed after New returns.
type Route struct {
	public      Endpoint
	destination Endpoint
	protocol    string
}

// New constructs a Route. No validation is performed here; callers validate
// request input before a route is built.
func New(public Endpoint, destination Endpoint, protocol string) Route {
	return Route{
		public:      public,
		destination: destination,
		protocol:    protocol,
	}
}

// Public returns the externally visible endpoint.
func (r Route) Public() Endpoint {
	return r.public
}

// Destination returns the internal target endpoint.
func (r Route) Destination() Endpoint {
	return r.destination
}

// Protocol returns the transport protocol token, for example "tcp".
func (r Route) Protocol() string {
	return r.protocol
}

func (r Route) String() string {
	return fmt.Sprintf("%s -> %s/%s", r.public, r.destination, r.protocol)
}
