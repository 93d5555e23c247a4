package negentropy

import "fmt"

// DefaultFrameSizeLimit is the wire budget a single NEG-MSG payload
// should stay under.
const DefaultFrameSizeLimit = 60000

// Session drives one side of a reconciliation: it seals a local
// Storage, emits the initial message (if acting as the initiator), and
// processes each incoming message, accumulating Have/Need as ranges
// resolve. A Session is single-use: construct a new one per sync.
type Session struct {
	storage        *Storage
	frameSizeLimit int
	version        byte

	have []Item
	need []Item
	done bool

	initiator bool
}

// NewSession seals storage for reconciliation. frameSizeLimit <= 0 uses
// DefaultFrameSizeLimit.
func NewSession(storage *Storage, frameSizeLimit int) *Session {
	return newSessionWithVersion(storage, frameSizeLimit, protocolVersion)
}

func newSessionWithVersion(storage *Storage, frameSizeLimit int, version byte) *Session {
	if frameSizeLimit <= 0 {
		frameSizeLimit = DefaultFrameSizeLimit
	}
	return &Session{storage: storage, frameSizeLimit: frameSizeLimit, version: version}
}

// Initiate returns the first message a client sends to open a
// reconciliation round: a single full-range fingerprint.
func (s *Session) Initiate() ([]byte, error) {
	fp := s.storage.Fingerprint(negInfinity, posInfinity)
	s.initiator = true
	return encodeMessage(s.version, []wireRange{{upper: posInfinity, mode: modeFingerprint, fingerprint: fp}}), nil
}

// Reconcile processes an incoming message and returns the response to
// send back, or nil if reconciliation is complete on this side (Done
// reports true once that happens). Have/Need accumulate across calls.
func (s *Session) Reconcile(msg []byte) ([]byte, error) {
	ver, ranges, err := decodeMessage(msg)
	if err != nil {
		return nil, fmt.Errorf("negentropy: reconcile: %w", err)
	}
	if ver != s.version {
		return nil, fmt.Errorf("negentropy: unsupported protocol version %d", ver)
	}

	var out []wireRange
	lower := int64(negInfinity)
	for _, r := range ranges {
		upper := r.upper
		switch r.mode {
		case modeSkip:
			// nothing to do; peer has told us this range needs no work.

		case modeFingerprint:
			localFP := s.storage.Fingerprint(lower, upper)
			if localFP == r.fingerprint {
				break
			}
			if lower == negInfinity && upper == posInfinity {
				// First mismatch on the whole range: subdivide once into
				// buckets and report our own fingerprint for each, so the
				// peer can narrow down which buckets actually differ
				// before either side pays to exchange full id lists.
				out = append(out, s.bucketFingerprints(lower, upper)...)
			} else {
				// Already inside a bucket and still mismatched: resolve
				// directly with a full id list rather than recursing
				// again, trading a little bandwidth for a bounded number
				// of round trips.
				out = append(out, wireRange{upper: upper, mode: modeIDList, items: s.storage.ItemsInRange(lower, upper)})
			}

		case modeIDList:
			local := s.storage.ItemsInRange(lower, upper)
			have, need := diffItems(local, r.items)
			s.have = append(s.have, have...)
			s.need = append(s.need, need...)
			if !s.initiator {
				// Answer with our own list so the initiator can compute
				// the same difference from its side.
				out = append(out, wireRange{upper: upper, mode: modeIDList, items: local})
			}
		}
		lower = upper
	}

	if len(out) == 0 {
		s.done = true
		return nil, nil
	}
	return encodeMessage(s.version, out), nil
}

const bucketCount = 16

func (s *Session) bucketFingerprints(lower, upper int64) []wireRange {
	n := s.storage.Len()
	if n == 0 {
		return []wireRange{{upper: posInfinity, mode: modeSkip}}
	}
	items := s.storage.ItemsInRange(lower, upper)
	if len(items) == 0 {
		return []wireRange{{upper: posInfinity, mode: modeSkip}}
	}

	buckets := bucketCount
	if len(items) < buckets {
		buckets = len(items)
	}
	perBucket := (len(items) + buckets - 1) / buckets

	var out []wireRange
	for i := 0; i < len(items); i += perBucket {
		end := i + perBucket
		if end > len(items) {
			end = len(items)
		}
		var upperBound int64
		if end == len(items) {
			upperBound = posInfinity
		} else {
			upperBound = items[end].Timestamp
		}
		lo := lower
		if i > 0 {
			lo = items[i].Timestamp
		}
		out = append(out, wireRange{upper: upperBound, mode: modeFingerprint, fingerprint: s.storage.Fingerprint(lo, upperBound)})
	}
	return out
}

// Done reports whether this side has no further messages to send.
func (s *Session) Done() bool { return s.done }

// Have returns items this side holds that the peer reported it lacks.
func (s *Session) Have() []Item { return s.have }

// Need returns items the peer reported having that this side lacks.
func (s *Session) Need() []Item { return s.need }

func diffItems(local, remote []Item) (have, need []Item) {
	localSet := make(map[[32]byte]struct{}, len(local))
	for _, it := range local {
		localSet[it.ID] = struct{}{}
	}
	remoteSet := make(map[[32]byte]struct{}, len(remote))
	for _, it := range remote {
		remoteSet[it.ID] = struct{}{}
	}
	for _, it := range local {
		if _, ok := remoteSet[it.ID]; !ok {
			have = append(have, it)
		}
	}
	for _, it := range remote {
		if _, ok := localSet[it.ID]; !ok {
			need = append(need, it)
		}
	}
	return have, need
}
