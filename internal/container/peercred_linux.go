package container

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

var ErrPeerNotAllowed = errors.New("container: peer not allowed")

// PeerCred identifies the process on the other end of a unix socket.
type PeerCred struct {
	PID int32
	UID uint32
	GID uint32
}

func readPeerCred(conn *net.UnixConn) (PeerCred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return PeerCred{}, fmt.Errorf("container: raw connection: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCred{}, fmt.Errorf("container: control: %w", err)
	}
	if credErr != nil {
		return PeerCred{}, fmt.Errorf("container: SO_PEERCRED: %w", credErr)
	}
	return PeerCred{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}

// GatePeer admits only the owning user and root on the manager socket.
func GatePeer(conn net.Conn) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("%w: not a unix connection", ErrPeerNotAllowed)
	}
	cred, err := readPeerCred(uc)
	if err != nil {
		return err
	}
	if cred.UID != 0 && cred.UID != uint32(os.Getuid()) {
		return fmt.Errorf("%w: uid %d", ErrPeerNotAllowed, cred.UID)
	}
	return nil
}
