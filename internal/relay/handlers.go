package relay

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/skypro1111/udprelay/internal/protocol"
	"github.com/skypro1111/udprelay/internal/registry"
)

// handleCommand touches the sender's activity, parses the verb, and dispatches to the
// matching handler. Touch happens before parsing so that even a malformed command keeps
// the sender alive.
func (s *Server) handleCommand(data []byte, addr *net.UDPAddr, now time.Time) {
	key := addr.String()
	s.registry.Touch(key, now)

	cmd, err := protocol.ParseCommand(data)
	if err != nil {
		s.replyProtocolErr(addr, err)
		return
	}

	switch cmd.Verb {
	case protocol.Create:
		s.handleCreate(key, addr, cmd, now)
	case protocol.Join:
		s.handleJoin(key, addr, cmd, now)
	case protocol.Leave:
		s.handleLeave(key, addr, cmd, now)
	case protocol.Ping:
		s.handlePing(addr, cmd)
	case protocol.Who:
		s.handleWho(key, addr, cmd)
	}
}

func (s *Server) replyProtocolErr(addr *net.UDPAddr, err error) {
	if perr, ok := err.(*protocol.Error); ok {
		s.sendError(addr, perr.Code, perr.Message)
		return
	}
	s.sendError(addr, protocol.BadCmd, "UnknownCommand")
}

func (s *Server) handleCreate(key string, addr *net.UDPAddr, cmd *protocol.Command, now time.Time) {
	if len(cmd.Args) != 0 {
		s.sendError(addr, protocol.BadArg, "Usage:!CREATE")
		return
	}

	id, err := s.registry.CreateGroup(key, now)
	if err != nil {
		s.replyRegistryErr(addr, err, "")
		return
	}

	s.metrics.RecordGroupCreated()
	s.metrics.SetActiveGroups(s.registry.GroupCount())
	s.logger.Info("group created", slog.String("group_id", id), slog.String("owner", key))
	s.sendReply(addr, protocol.FormatOK("CREATED", id))
}

func (s *Server) handleJoin(key string, addr *net.UDPAddr, cmd *protocol.Command, now time.Time) {
	if len(cmd.Args) != 1 || !protocol.ValidGroupID(cmd.Args[0]) {
		s.sendError(addr, protocol.BadArg, "Usage:!JOIN <GROUPID>")
		return
	}
	id := cmd.Args[0]

	if err := s.registry.Join(key, id, now); err != nil {
		s.replyRegistryErr(addr, err, id)
		return
	}

	s.sendReply(addr, protocol.FormatOK("JOINED", id))
}

func (s *Server) handleLeave(key string, addr *net.UDPAddr, cmd *protocol.Command, now time.Time) {
	if len(cmd.Args) != 1 || !protocol.ValidGroupID(cmd.Args[0]) {
		s.sendError(addr, protocol.BadArg, "Usage:!LEAVE <GROUPID>")
		return
	}
	id := cmd.Args[0]

	if err := s.registry.Leave(key, id, now); err != nil {
		s.replyRegistryErr(addr, err, id)
		return
	}

	s.sendReply(addr, protocol.FormatOK("LEFT", id))
}

func (s *Server) handlePing(addr *net.UDPAddr, cmd *protocol.Command) {
	if len(cmd.Args) != 0 {
		s.sendError(addr, protocol.BadArg, "Usage:!PING")
		return
	}
	s.sendReply(addr, protocol.FormatPong(int(s.group.HeartbeatInterval.Seconds())))
}

func (s *Server) handleWho(key string, addr *net.UDPAddr, cmd *protocol.Command) {
	if len(cmd.Args) != 0 {
		s.sendError(addr, protocol.BadArg, "Usage:!WHO")
		return
	}

	id, count, err := s.registry.Who(key)
	if err != nil {
		s.replyRegistryErr(addr, err, "")
		return
	}

	s.sendReply(addr, protocol.FormatOK("WHO", id, strconv.Itoa(count)))
}

// replyRegistryErr translates a registry sentinel error into the wire error envelope.
// id, where supplied, renders as the GROUP_FULL message per the specification's wire
// grammar for that code.
func (s *Server) replyRegistryErr(addr *net.UDPAddr, err error, id string) {
	switch err {
	case registry.ErrNoSuchGroup:
		s.sendError(addr, protocol.NoSuchGroup, "NoSuchGroup")
	case registry.ErrGroupFull:
		s.sendError(addr, protocol.GroupFull, id)
	case registry.ErrNotInGroup:
		s.sendError(addr, protocol.NotInGroup, "NotInGroup")
	case registry.ErrOwnerLimit:
		s.sendError(addr, protocol.OwnerLimit, "GroupLimitReached")
	default:
		s.sendError(addr, protocol.BadCmd, "UnknownCommand")
	}
}
