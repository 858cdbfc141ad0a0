package robot

import (
	"fmt"
	"net/url"
	"strings"
)

// New picks a transport from the port string:
//
//	http://host:8000, https://...      -> HTTPActuator
//	tcp://host:1883/prefix, mqtt://... -> MQTTActuator
//	host or host:port                  -> HTTPActuator on http://host:8000
func New(port string) (Controller, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		return nil, fmt.Errorf("robot port is empty")
	}
	if !strings.Contains(port, "://") {
		if !strings.Contains(port, ":") {
			port += ":8000"
		}
		return NewHTTPActuator("http://" + port), nil
	}

	u, err := url.Parse(port)
	if err != nil {
		return nil, fmt.Errorf("invalid robot port %q: %w", port, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPActuator(strings.TrimSuffix(port, "/")), nil
	case "tcp", "mqtt", "ssl", "tls", "ws", "wss":
		prefix := strings.Trim(u.Path, "/")
		broker := *u
		broker.Path = ""
		if broker.Scheme == "mqtt" {
			broker.Scheme = "tcp"
		}
		return NewMQTTActuator(broker.String(), prefix)
	default:
		return nil, fmt.Errorf("unsupported robot port scheme %q", u.Scheme)
	}
}
