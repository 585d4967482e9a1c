package core

import "github.com/dkeye/Jam/internal/domain"

// memberSession implements MemberSession by pairing presence + transport.
// The presence is guarded by the owning room's lock; anything handed out of
// the room is a frozen copy.
type memberSession struct {
	sid      SessionID
	presence *domain.Presence
	conn     SignalConnection
}

func newMemberSession(sid SessionID, p *domain.Presence, conn SignalConnection) *memberSession {
	return &memberSession{sid: sid, presence: p, conn: conn}
}

func (m *memberSession) SID() SessionID            { return m.sid }
func (m *memberSession) Presence() domain.Presence { return *m.presence }
func (m *memberSession) Signal() SignalConnection  { return m.conn }

func (m *memberSession) frozen() *memberSession {
	p := *m.presence
	return &memberSession{sid: m.sid, presence: &p, conn: m.conn}
}
