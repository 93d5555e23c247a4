package gossip

import (
	"github.com/nostrcore/relaypool/nostr"
	"github.com/nostrcore/relaypool/relay"
)

// BreakDown routes an authors-filter's pubkeys to the relays each one
// actually uses: outbox relays when forSend is false (fetching that
// pubkey's own notes), inbox relays when forSend is true (delivering to
// that pubkey), capped at perPubkeyCap relays per pubkey. Pubkeys the
// overlay has no data for fall back to the seed relay set. The result
// merges every pubkey routed to the same relay into one filter, with
// the non-author fields of the template filter carried through
// unchanged.
func (o *Overlay) BreakDown(filter nostr.Filter, authors []nostr.PubKey, forSend bool) map[relay.URL]nostr.Filter {
	out := make(map[relay.URL]nostr.Filter)

	addAuthor := func(url relay.URL, pk nostr.PubKey) {
		f, ok := out[url]
		if !ok {
			f = filter
			f.Authors = nil
		}
		f.Authors = append(f.Authors, pk)
		out[url] = f
	}

	for _, pk := range authors {
		urls := o.relaysFor(pk, forSend)
		if len(urls) == 0 {
			urls = o.seedRelays
		}
		if len(urls) > o.perPubkeyCap {
			urls = urls[:o.perPubkeyCap]
		}
		for _, u := range urls {
			addAuthor(u, pk)
		}
	}
	return out
}

// relaysFor extracts the outbox (write-marked or unmarked "r" tags) or
// inbox (read-marked or unmarked "r" tags) relay URLs from a pubkey's
// last-seen NIP-65 relay list.
func (o *Overlay) relaysFor(pk nostr.PubKey, forSend bool) []relay.URL {
	o.mu.RLock()
	en, ok := o.known[pk]
	o.mu.RUnlock()
	if !ok || en.relayList == nil {
		return nil
	}

	var out []relay.URL
	for _, tag := range en.relayList.Tags.All() {
		if tag.Name() != "r" || len(tag) < 2 {
			continue
		}
		marker := ""
		if len(tag) >= 3 {
			marker = tag[2]
		}
		// unmarked entries are both read and write; forSend wants the
		// inbox (where a reply/DM should land), !forSend wants the
		// outbox (where that pubkey's own notes live).
		if forSend {
			if marker != "" && marker != "read" {
				continue
			}
		} else {
			if marker != "" && marker != "write" {
				continue
			}
		}
		url, err := relay.Normalize(tag.Value())
		if err != nil {
			continue
		}
		out = append(out, url)
	}
	return out
}
