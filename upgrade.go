package pipehttp

import (
	"bufio"
	"net"
)

// UpgradeHandler takes over a connection after a successful protocol upgrade.
//
// The connection is closed when the handler returns.
type UpgradeHandler func(c net.Conn)

// upgradedConn is handed to an UpgradeHandler. Reads go through the request
// reader first, so bytes the client sent right after the upgrade request are
// not lost.
type upgradedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *upgradedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *upgradedConn) Close() error {
	return c.Conn.Close()
}

func (s *Server) runUpgradeHandler(sc *serverConn, h UpgradeHandler) {
	sc.logger.Debug().Msg("connection upgraded")
	h(&upgradedConn{Conn: sc.c, r: sc.br})
}
