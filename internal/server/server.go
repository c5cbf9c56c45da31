// Package server accepts websocket connections carrying MQTT and hands each
// one to a connection handler.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/connection"
	"github.com/life-stream-dev/life-stream-go-ws-broker/internal/logger"
)

// Subprotocols offered during the upgrade. Clients that ask for none are
// accepted as well.
var Subprotocols = []string{"mqtt", "mqttv3.1"}

type Config struct {
	Hostname string `json:"hostname" toml:"hostname"`
	Port     int    `json:"port" toml:"port"`
	// MaxPacketSize bounds the remaining length of one control packet.
	// Zero selects the broker default.
	MaxPacketSize int `json:"max_packet_size" toml:"max_packet_size"`
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}

// Handler serves one accepted connection and returns when it is finished.
type Handler func(conn connection.Conn)

type Server struct {
	config   Config
	handler  Handler
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
}

func NewServer(config Config, handler Handler) *Server {
	return &Server{
		config:  config,
		handler: handler,
		upgrader: websocket.Upgrader{
			Subprotocols: Subprotocols,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Start binds the configured address and serves in the background. It
// returns the websocket URL clients should dial. A bind failure is returned
// as *ListenError.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return "", errors.New("server already started")
	}

	address := s.config.Address()
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return "", &ListenError{Address: address, Err: err}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	s.listener = listener
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorF("Websocket server stopped unexpectedly, details: %v", err)
		}
	}(s.http)

	url := s.url()
	logger.InfoF("MQTT listening on %s", url)
	return url, nil
}

func (s *Server) url() string {
	port := s.config.Port
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return fmt.Sprintf("ws://%s", net.JoinHostPort(s.config.Hostname, strconv.Itoa(port)))
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listening socket. Upgraded connections are not touched;
// their owner is responsible for closing them.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	logger.Info("Closing websocket listener")
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown websocket listener: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("[%s] Websocket upgrade failed, details: %v", r.RemoteAddr, err)
		return
	}
	logger.DebugF("Accepted new connection from %s (subprotocol %q)", conn.RemoteAddr(), conn.Subprotocol())
	s.handler(NewConn(conn))
}
