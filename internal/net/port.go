package net

import (
	"fmt"
	"net"
)

// FreeTCPAddr returns a host:port on host whose port was free at the time of the call.
func FreeTCPAddr(host string) (string, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return "", fmt.Errorf("listening to acquire port on %s: %w", host, err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
