package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nostrcore/relaypool/nostr"
)

// ClosedPrefix is the machine-readable prefix on an OK/CLOSED message.
type ClosedPrefix string

const (
	PrefixNone         ClosedPrefix = ""
	PrefixDuplicate    ClosedPrefix = "duplicate"
	PrefixPoW          ClosedPrefix = "pow"
	PrefixBlocked      ClosedPrefix = "blocked"
	PrefixRateLimited  ClosedPrefix = "rate-limited"
	PrefixInvalid      ClosedPrefix = "invalid"
	PrefixError        ClosedPrefix = "error"
	PrefixUnsupported  ClosedPrefix = "unsupported"
	PrefixAuthRequired ClosedPrefix = "auth-required"
	PrefixRestricted   ClosedPrefix = "restricted"
)

func parsePrefix(msg string) (ClosedPrefix, string) {
	for _, p := range []ClosedPrefix{PrefixDuplicate, PrefixPoW, PrefixBlocked, PrefixRateLimited,
		PrefixInvalid, PrefixError, PrefixUnsupported, PrefixAuthRequired, PrefixRestricted} {
		prefix := string(p) + ":"
		if strings.HasPrefix(msg, prefix) {
			return p, strings.TrimSpace(strings.TrimPrefix(msg, prefix))
		}
	}
	return PrefixNone, msg
}

// --- outbound (client -> relay) ---

func encodeEventMsg(e *nostr.Event) ([]byte, error) {
	return marshalArray("EVENT", e)
}

func encodeReqMsg(subID string, filters []nostr.Filter) ([]byte, error) {
	parts := make([]interface{}, 0, len(filters)+2)
	parts = append(parts, "REQ", subID)
	for i := range filters {
		parts = append(parts, &filters[i])
	}
	return marshalArray2(parts)
}

func encodeCloseMsg(subID string) ([]byte, error) {
	return marshalArray("CLOSE", subID)
}

func encodeAuthMsg(e *nostr.Event) ([]byte, error) {
	return marshalArray("AUTH", e)
}

func encodeCountMsg(subID string, f *nostr.Filter) ([]byte, error) {
	return marshalArray2([]interface{}{"COUNT", subID, f})
}

func encodeNegOpenMsg(subID string, f *nostr.Filter, initialHex string) ([]byte, error) {
	return marshalArray2([]interface{}{"NEG-OPEN", subID, f, initialHex})
}

func encodeNegMsgMsg(subID, hexMsg string) ([]byte, error) {
	return marshalArray("NEG-MSG", subID, hexMsg)
}

func encodeNegCloseMsg(subID string) ([]byte, error) {
	return marshalArray("NEG-CLOSE", subID)
}

func marshalArray(tag string, rest ...interface{}) ([]byte, error) {
	parts := append([]interface{}{tag}, rest...)
	return marshalArray2(parts)
}

func marshalArray2(parts []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(parts); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// --- inbound (relay -> client) ---

// InboundKind discriminates relay->client wire messages.
type InboundKind int

const (
	InEvent InboundKind = iota
	InOK
	InEOSE
	InClosed
	InNotice
	InAuth
	InCount
	InNegMsg
	InNegErr
	InUnknown
)

// Inbound is a parsed relay->client message.
type Inbound struct {
	Kind    InboundKind
	SubID   string
	Event   nostr.Event
	OKID    nostr.ID
	OKOk    bool
	Message string
	Count   int
	Hex     string
}

// decodeInbound sniffs the first array element with gjson before paying
// for a full decode of the matched message type (the project's
// go-nostr dependency ships gjson transitively; we use it directly
// here for exactly the kind of array-type triage it is built for).
func decodeInbound(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, fmt.Errorf("relay: invalid message json")
	}
	arr := gjson.ParseBytes(raw).Array()
	if len(arr) == 0 {
		return Inbound{}, fmt.Errorf("relay: empty message array")
	}
	switch arr[0].String() {
	case "EVENT":
		if len(arr) < 3 {
			return Inbound{}, fmt.Errorf("relay: malformed EVENT message")
		}
		var e nostr.Event
		if err := e.UnmarshalJSON([]byte(arr[2].Raw)); err != nil {
			return Inbound{}, err
		}
		return Inbound{Kind: InEvent, SubID: arr[1].String(), Event: e}, nil
	case "OK":
		if len(arr) < 4 {
			return Inbound{}, fmt.Errorf("relay: malformed OK message")
		}
		id, err := nostr.ParseID(arr[1].String())
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Kind: InOK, OKID: id, OKOk: arr[2].Bool(), Message: arr[3].String()}, nil
	case "EOSE":
		if len(arr) < 2 {
			return Inbound{}, fmt.Errorf("relay: malformed EOSE message")
		}
		return Inbound{Kind: InEOSE, SubID: arr[1].String()}, nil
	case "CLOSED":
		if len(arr) < 3 {
			return Inbound{}, fmt.Errorf("relay: malformed CLOSED message")
		}
		return Inbound{Kind: InClosed, SubID: arr[1].String(), Message: arr[2].String()}, nil
	case "NOTICE":
		if len(arr) < 2 {
			return Inbound{}, fmt.Errorf("relay: malformed NOTICE message")
		}
		return Inbound{Kind: InNotice, Message: arr[1].String()}, nil
	case "AUTH":
		if len(arr) < 2 {
			return Inbound{}, fmt.Errorf("relay: malformed AUTH message")
		}
		return Inbound{Kind: InAuth, Message: arr[1].String()}, nil
	case "COUNT":
		if len(arr) < 3 {
			return Inbound{}, fmt.Errorf("relay: malformed COUNT message")
		}
		return Inbound{Kind: InCount, SubID: arr[1].String(), Count: int(arr[2].Get("count").Int())}, nil
	case "NEG-MSG":
		if len(arr) < 3 {
			return Inbound{}, fmt.Errorf("relay: malformed NEG-MSG message")
		}
		return Inbound{Kind: InNegMsg, SubID: arr[1].String(), Hex: arr[2].String()}, nil
	case "NEG-ERR":
		if len(arr) < 3 {
			return Inbound{}, fmt.Errorf("relay: malformed NEG-ERR message")
		}
		return Inbound{Kind: InNegErr, SubID: arr[1].String(), Message: arr[2].String()}, nil
	default:
		return Inbound{Kind: InUnknown}, nil
	}
}
