package gateway

import "log/slog"

// Listen-along relations form a host/follower graph with back-pointers. Edges
// are stored as session ids and resolved through the registry, so a dangling
// id after a disconnect is simply a lookup miss. All edge mutations happen
// under the gateway mutex to keep the two directions in sync at every
// observable point.

// listenAlong makes follower mirror host's playback. A follower switching
// hosts is detached from the old host first; there is no window with two
// hosts.
func (g *Gateway) listenAlong(follower, host *Session) {
	if follower == nil || host == nil || follower.id == host.id {
		return
	}

	g.mu.Lock()
	if follower.listeningWith == host.id {
		g.mu.Unlock()
		return
	}
	g.detachFromHostLocked(follower, false)

	host.listeningAlong[follower.id] = struct{}{}
	follower.listeningWith = host.id
	g.mu.Unlock()

	slog.Debug("Listen-along started", "follower", follower.id, "host", host.id)

	// Immediate forced seek so the new follower lands on the host's position
	// instead of catching up smoothly.
	g.pushSync(follower, host, true)
}

// stopListeningAlong detaches follower from its host. When the host initiated
// the stop (it left or disconnected), the follower gets an explicit stop
// frame so the client halts playback deterministically.
func (g *Gateway) stopListeningAlong(follower *Session, hostInitiated bool) {
	g.mu.Lock()
	detached := g.detachFromHostLocked(follower, hostInitiated)
	g.mu.Unlock()

	if detached {
		slog.Debug("Listen-along stopped", "follower", follower.id, "hostInitiated", hostInitiated)
	}
}

// detachFromHostLocked removes the follower->host edge and its inverse.
// Callers must hold g.mu.
func (g *Gateway) detachFromHostLocked(follower *Session, hostInitiated bool) bool {
	hostID := follower.listeningWith
	if hostID == "" {
		return false
	}
	if host := g.lookupSessionLocked(hostID); host != nil {
		delete(host.listeningAlong, follower.id)
	}
	follower.listeningWith = ""

	if hostInitiated {
		follower.SendFrame(newStopSyncFrame())
	}
	return true
}

// syncWith pushes the current playback state of the follower's host. A
// follower with no host is a silent no-op.
func (g *Gateway) syncWith(follower *Session, forceSeek bool) {
	g.mu.RLock()
	host := g.lookupSessionLocked(follower.listeningWith)
	g.mu.RUnlock()

	if host == nil {
		return
	}
	g.pushSync(follower, host, forceSeek)
}

// updateListeners relays the host's playback to every follower. Called
// whenever the host's state changes meaningfully (track change, seek,
// pause/resume).
func (g *Gateway) updateListeners(host *Session) {
	g.mu.RLock()
	followers := make([]*Session, 0, len(host.listeningAlong))
	for id := range host.listeningAlong {
		if f := g.lookupSessionLocked(id); f != nil {
			followers = append(followers, f)
		}
	}
	g.mu.RUnlock()

	for _, follower := range followers {
		g.pushSync(follower, host, true)
	}
}

func (g *Gateway) pushSync(follower, host *Session, seek bool) {
	track, progress, paused := host.playbackSnapshot()
	if err := follower.SendFrame(newSyncFrame(track, progress, paused, seek)); err != nil {
		slog.Debug("Sync push failed", "follower", follower.id, "host", host.id, "error", err)
	}
}
