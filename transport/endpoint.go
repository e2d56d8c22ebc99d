package transport

import "fmt"

// Endpoint is the (host, port) address of one cache server. It is a plain
// comparable struct so it can be used directly as a map key.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}
