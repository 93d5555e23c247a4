package negentropy

import "strings"

// LegacyFallback wraps a Session and, the first time a peer rejects our
// wire version, restarts reconciliation from scratch under the older
// legacyProtocolVersion framing — mirroring how the reference
// negentropy client re-opens a session under the pre-final protocol
// byte rather than giving up when it meets an older relay.
type LegacyFallback struct {
	storage        *Storage
	frameSizeLimit int
	session        *Session
	triedLegacy    bool
}

// NewLegacyFallback seals storage the same way NewSession does, but
// keeps enough state to restart once under the legacy wire version.
func NewLegacyFallback(storage *Storage, frameSizeLimit int) *LegacyFallback {
	return &LegacyFallback{
		storage:        storage,
		frameSizeLimit: frameSizeLimit,
		session:        NewSession(storage, frameSizeLimit),
	}
}

// Initiate delegates to the current underlying Session.
func (l *LegacyFallback) Initiate() ([]byte, error) {
	return l.session.Initiate()
}

// Reconcile delegates to the underlying Session. If the peer's reply
// carries a version this side hasn't tried yet, Reconcile restarts once
// under legacyProtocolVersion and returns a fresh Initiate message in
// place of the usual reconciliation response.
func (l *LegacyFallback) Reconcile(msg []byte) ([]byte, error) {
	out, err := l.session.Reconcile(msg)
	if err != nil && !l.triedLegacy && strings.Contains(err.Error(), "unsupported protocol version") {
		l.triedLegacy = true
		l.session = newSessionWithVersion(l.storage, l.frameSizeLimit, legacyProtocolVersion)
		return l.session.Initiate()
	}
	return out, err
}

// Done, Have and Need delegate to the current underlying Session.
func (l *LegacyFallback) Done() bool   { return l.session.Done() }
func (l *LegacyFallback) Have() []Item { return l.session.Have() }
func (l *LegacyFallback) Need() []Item { return l.session.Need() }
