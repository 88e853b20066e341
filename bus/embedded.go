package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EmbeddedServer is an in-process NATS server with JetStream, used by
// embedded mode and integration tests.
type EmbeddedServer struct {
	srv *server.Server
}

// StartEmbedded boots an in-process NATS server on a random port. storeDir
// may be empty for an OS temp dir.
func StartEmbedded(storeDir string) (*EmbeddedServer, error) {
	opts := &server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  storeDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start")
	}

	return &EmbeddedServer{srv: ns}, nil
}

// ClientURL returns the URL clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	return e.srv.ClientURL()
}

// Connect opens a bus connection to the embedded server.
func (e *EmbeddedServer) Connect(opts ...NATSOption) (*NATSBus, error) {
	conn, err := nats.Connect(e.srv.ClientURL())
	if err != nil {
		return nil, fmt.Errorf("connect to embedded NATS: %w", err)
	}
	return NewNATSBus(conn, opts...)
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
