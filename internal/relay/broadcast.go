package relay

import (
	"log/slog"
	"net"
	"time"

	"github.com/skypro1111/udprelay/internal/protocol"
)

// handlePayload relays a non-command datagram verbatim to every other member of the
// sender's group. No header or sender identity is added: receivers see exactly the
// bytes the sender transmitted.
func (s *Server) handlePayload(data []byte, addr *net.UDPAddr, now time.Time) {
	key := addr.String()
	s.registry.Touch(key, now)

	id, _, err := s.registry.Who(key)
	if err != nil {
		s.sendError(addr, protocol.NotInGroup, "JoinFirstUseJOIN")
		return
	}

	members, ok := s.registry.MembersOf(id)
	if !ok {
		// The group was reaped between Who and MembersOf (e.g. a concurrent sweep
		// pass); there is nothing left to deliver to.
		return
	}

	delivered := 0
	for _, m := range members {
		if m == key {
			continue
		}
		dest, err := net.ResolveUDPAddr("udp", m)
		if err != nil {
			s.logger.Warn("failed to resolve recipient address",
				slog.String("addr", m),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.send(dest, data)
		delivered++
	}

	s.metrics.RecordBroadcast(delivered)
}
