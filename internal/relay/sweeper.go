package relay

import (
	"log/slog"
	"time"
)

// sweepLoop runs the periodic cleanup pass on its own goroutine, independent of
// datagram arrival, until Stop closes s.done.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.group.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Server) sweepOnce() {
	result := s.registry.Sweep(time.Now(), s.group.HeartbeatInterval, s.group.EmptyTTL)

	s.metrics.RecordSweepDuration(result.Duration.Seconds())
	s.metrics.RecordClientsEvicted(len(result.EvictedClients))
	s.metrics.RecordGroupsReaped(len(result.ReapedGroups))
	s.metrics.SetActiveClients(s.registry.ClientCount())
	s.metrics.SetActiveGroups(s.registry.GroupCount())

	if len(result.EvictedClients) == 0 && len(result.ReapedGroups) == 0 {
		s.logger.Debug("sweep pass completed", slog.Duration("duration", result.Duration))
		return
	}

	s.logger.Info("sweep pass reaped state",
		slog.Int("evicted_clients", len(result.EvictedClients)),
		slog.Int("reaped_groups", len(result.ReapedGroups)),
		slog.Duration("duration", result.Duration),
	)
}
