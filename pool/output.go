package pool

import "github.com/nostrcore/relaypool/relay"

// Output is the fan-out result envelope every pool operation that talks
// to more than one relay returns: a fan-out call never fails wholesale
// if at least one relay succeeds, so callers inspect Success/Failed
// instead of a single error.
type Output[T any] struct {
	Val     T
	Success map[relay.URL]struct{}
	Failed  map[relay.URL]error
}

func newOutput[T any](val T) *Output[T] {
	return &Output[T]{
		Val:     val,
		Success: make(map[relay.URL]struct{}),
		Failed:  make(map[relay.URL]error),
	}
}

func (o *Output[T]) ok(url relay.URL) {
	o.Success[url] = struct{}{}
}

func (o *Output[T]) fail(url relay.URL, err error) {
	o.Failed[url] = err
}

// URLs returns every relay this Output touched, success or failure.
func (o *Output[T]) URLs() []relay.URL {
	out := make([]relay.URL, 0, len(o.Success)+len(o.Failed))
	for u := range o.Success {
		out = append(out, u)
	}
	for u := range o.Failed {
		out = append(out, u)
	}
	return out
}
