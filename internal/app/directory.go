package app

import (
	"errors"
	"sync"

	"github.com/dkeye/Jam/internal/core"
	"github.com/dkeye/Jam/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("not found")

type directoryEntry struct {
	SID  core.SessionID
	Conn core.SignalConnection
}

// Directory maps a user to the connection it reached us on most recently.
// Last write wins.
type Directory struct {
	mu      sync.RWMutex
	entries map[domain.UserID]directoryEntry
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[domain.UserID]directoryEntry)}
}

func (d *Directory) Register(uid domain.UserID, sid core.SessionID, conn core.SignalConnection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, had := d.entries[uid]
	d.entries[uid] = directoryEntry{SID: sid, Conn: conn}
	ev := log.Debug().Str("module", "app.directory").Str("user", string(uid)).Str("sid", string(sid))
	if had && prev.SID != sid {
		ev = ev.Str("superseded", string(prev.SID))
	}
	ev.Msg("registered")
}

func (d *Directory) Lookup(uid domain.UserID) (core.SessionID, core.SignalConnection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[uid]
	if !ok {
		return "", nil, false
	}
	return e.SID, e.Conn, true
}

// Unregister removes uid only while it still points at sid, so a late
// disconnect of a superseded connection leaves the newer one reachable.
func (d *Directory) Unregister(uid domain.UserID, sid core.SessionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[uid]
	if !ok || e.SID != sid {
		return false
	}
	delete(d.entries, uid)
	log.Debug().Str("module", "app.directory").Str("user", string(uid)).Str("sid", string(sid)).Msg("unregistered")
	return true
}

// SendTo delivers f to uid's current connection. A missing entry and a dead
// connection both come back as ErrNotFound.
func (d *Directory) SendTo(uid domain.UserID, f core.Frame) error {
	_, conn, ok := d.Lookup(uid)
	if !ok {
		return ErrNotFound
	}
	if err := conn.TrySend(f); err != nil {
		if errors.Is(err, core.ErrConnClosed) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
