// Package server wires the bourse components together: it accepts client
// connections, runs one servicer goroutine per connection, and coordinates
// graceful shutdown by half-closing every client and draining the servicers
// before tearing the exchange down.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bourse-exchange/bourse/internal/account"
	"github.com/bourse-exchange/bourse/internal/config"
	"github.com/bourse-exchange/bourse/internal/exchange"
	"github.com/bourse-exchange/bourse/internal/registry"
	"github.com/bourse-exchange/bourse/internal/trader"
	"github.com/bourse-exchange/bourse/pkg/logging"
)

// Server is the bourse daemon: client registry, account store, trader
// registry, exchange and accept loop.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	clients  *registry.Registry
	accounts *account.Store
	traders  *trader.Registry
	exchange *exchange.Exchange

	mu       sync.Mutex
	listener net.Listener

	stopping atomic.Bool
	closer   sync.Once
}

// New creates a server from the given configuration and starts the
// exchange's matchmaker.
func New(cfg *config.Config) *Server {
	accounts := account.NewStore(cfg.MaxAccounts)
	traders := trader.NewRegistry(accounts, cfg.MaxTraders)

	return &Server{
		cfg:      cfg,
		log:      logging.GetDefault().Component("server"),
		clients:  registry.New(cfg.MaxClients),
		accounts: accounts,
		traders:  traders,
		exchange: exchange.New(traders),
	}
}

// Accounts returns the server's account store.
func (s *Server) Accounts() *account.Store {
	return s.accounts
}

// Exchange returns the server's exchange.
func (s *Server) Exchange() *exchange.Exchange {
	return s.exchange
}

// ListenAndServe binds the configured TCP port and runs the accept loop. It
// returns nil after Shutdown closes the listener.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on an existing listener, spawning one servicer
// goroutine per accepted connection.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// A shutdown that raced ahead of us closes the listener here instead.
	if s.stopping.Load() {
		ln.Close()
	}

	s.log.Info("Bourse server listening", "addr", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("Accept failed", "error", err)
			continue
		}

		connID := uuid.New().String()[:8]
		log := logging.GetDefault().Component("service").With("conn", connID)
		log.Debug("Accepted connection", "remote", conn.RemoteAddr())
		go s.serveConn(conn, log)
	}
}

// Addr returns the listener's address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown performs the one-shot graceful shutdown: close the listener,
// half-close every client so the servicers see EOF, wait for them to drain,
// then finalize the exchange and registries. Safe to call from multiple
// goroutines; every caller blocks until the shutdown completes.
func (s *Server) Shutdown() {
	s.closer.Do(func() {
		s.stopping.Store(true)

		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()

		s.clients.ShutdownAll()
		s.log.Info("Waiting for servicers to terminate")
		s.clients.WaitUntilEmpty()
		s.log.Info("All servicers terminated")

		s.exchange.Close()
		s.traders.Close()
		s.log.Info("Bourse server terminated")
	})
}
