package relay

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/udprelay/internal/config"
	"github.com/skypro1111/udprelay/internal/metrics"
	"github.com/skypro1111/udprelay/internal/protocol"
	"github.com/skypro1111/udprelay/internal/registry"
)

// Server owns the UDP datagram endpoint, the single dispatch goroutine that classifies
// and handles every inbound datagram in receipt order, and the periodic sweeper. It
// serializes all access to the registry through the registry's own mutex; the server
// itself holds no lock, it only sequences calls into one.
type Server struct {
	conn     *net.UDPConn
	registry *registry.Registry
	server   config.ServerConfig
	group    config.GroupConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Server. Call Start to bind and begin serving.
func New(serverCfg config.ServerConfig, groupCfg config.GroupConfig, reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		registry: reg,
		server:   serverCfg,
		group:    groupCfg,
		logger:   logger,
		metrics:  m,
		done:     make(chan struct{}),
	}
}

// Start binds the UDP socket and launches the receive loop and sweeper goroutines.
func (s *Server) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.server.Host, s.server.Port))
	if err != nil {
		return fmt.Errorf("resolve udp address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	s.conn = conn

	s.logger.Info("relay listening",
		slog.String("address", addr.String()),
		slog.Duration("heartbeat", s.group.HeartbeatInterval),
		slog.Duration("sweep_interval", s.group.SweepInterval),
		slog.Duration("empty_ttl", s.group.EmptyTTL),
	)

	s.wg.Add(2)
	go s.receiveLoop()
	go s.sweepLoop()

	return nil
}

// Addr returns the socket's bound local address. Only meaningful after Start.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Stop signals both goroutines to exit, closes the socket, and waits for them to
// finish before returning. Safe to call once.
func (s *Server) Stop() error {
	s.logger.Info("stopping relay")

	close(s.done)
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("error closing udp connection", slog.String("error", err.Error()))
		}
	}
	s.wg.Wait()

	s.logger.Info("relay stopped",
		slog.Int("clients", s.registry.ClientCount()),
		slog.Int("groups", s.registry.GroupCount()),
	)
	return nil
}

// receiveLoop is the server's single dispatch goroutine. Processing one datagram at a
// time here, rather than fanning out to worker goroutines, is what gives a single
// sender's commands program-order semantics at the registry.
func (s *Server) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, protocol.MaxPayload+1)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			s.logger.Error("failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.done:
				return
			default:
				s.logger.Error("udp read error", slog.String("error", err.Error()))
				continue
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.dispatch(data, addr)
	}
}

// dispatch classifies and handles one datagram. A registry invariant violation is a
// programmer error; it is recovered here so one corrupted datagram cannot take down the
// whole process, but logged loudly so the bug surfaces.
func (s *Server) dispatch(data []byte, addr *net.UDPAddr) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from panic handling datagram",
				slog.Any("panic", r),
				slog.String("remote_addr", addr.String()),
			)
		}
	}()

	isCommand := protocol.IsCommand(data)
	s.metrics.RecordDatagram(isCommand)

	if len(data) > protocol.MaxPayload {
		s.sendError(addr, protocol.TooLarge, "PayloadTooLarge")
		return
	}

	now := time.Now()
	if isCommand {
		s.handleCommand(data, addr, now)
		return
	}
	s.handlePayload(data, addr, now)
}

func (s *Server) sendReply(addr *net.UDPAddr, msg string) {
	s.send(addr, []byte(msg))
}

func (s *Server) sendError(addr *net.UDPAddr, code protocol.ErrorCode, message string) {
	s.metrics.RecordProtocolError(string(code))
	s.logger.Debug("protocol error reply",
		slog.String("code", string(code)),
		slog.String("remote_addr", addr.String()),
	)
	s.send(addr, []byte(protocol.FormatError(code, message)))
}

// send writes data to addr. Send failures are logged and swallowed: one unreachable
// peer must never affect any other peer or the sender of a broadcast.
func (s *Server) send(addr *net.UDPAddr, data []byte) {
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.logger.Debug("send failed",
			slog.String("remote_addr", addr.String()),
			slog.String("error", err.Error()),
		)
	}
}
