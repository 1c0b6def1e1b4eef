//go:build !linux

package container

import (
	"errors"
	"net"
)

var ErrPeerNotAllowed = errors.New("container: peer not allowed")

// GatePeer requires SO_PEERCRED, which only linux provides. Other
// platforms cannot host the manager socket.
func GatePeer(conn net.Conn) error {
	return errors.New("container: peer credentials unsupported on this platform")
}
