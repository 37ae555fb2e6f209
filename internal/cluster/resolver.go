package cluster

import (
	"math/rand"
	"net"
	"sort"
	"strconv"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

var ErrNoAliveServer = errors.New("cluster: no alive server")

// state is replaced as a whole, never mutated after it is published.
type state struct {
	// members is the sorted child list, used to detect changes.
	members    []string
	candidates []string
	running    string
}

// Resolver answers which server a client of one destination should talk
// to. The running server wins; otherwise the first of the shuffled
// candidates is used until the candidate list changes.
type Resolver struct {
	destination string
	state       atomic.Pointer[state]
	shuffle     func([]string)
}

func NewResolver(destination string) *Resolver {
	r := &Resolver{
		destination: destination,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
	}
	r.state.Store(&state{})
	return r
}

func (r *Resolver) Destination() string {
	return r.destination
}

// CurrentAddress never blocks.
func (r *Resolver) CurrentAddress() (string, error) {
	s := r.state.Load()
	if s.running != "" {
		return s.running, nil
	}
	if len(s.candidates) > 0 {
		return s.candidates[0], nil
	}
	return "", errors.Annotate(ErrNoAliveServer, r.destination)
}

// Candidates returns the current shuffled order.
func (r *Resolver) Candidates() []string {
	s := r.state.Load()
	return append([]string(nil), s.candidates...)
}

// SetCandidates replaces the child list. Malformed addresses are dropped.
// The order is reshuffled only when the set of members changed.
func (r *Resolver) SetCandidates(addrs []string) {
	members := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		if !validAddress(addr) {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		members = append(members, addr)
	}
	sort.Strings(members)

	r.update(func(old *state) *state {
		if equalStrings(old.members, members) {
			return nil
		}
		candidates := append([]string(nil), members...)
		r.shuffle(candidates)
		return &state{members: members, candidates: candidates, running: old.running}
	})
}

// SetRunning records the active server address.
func (r *Resolver) SetRunning(addr string) {
	if !validAddress(addr) {
		return
	}
	r.update(func(old *state) *state {
		if old.running == addr {
			return nil
		}
		return &state{members: old.members, candidates: old.candidates, running: addr}
	})
}

// ClearRunning forgets the running server, as when its node is deleted.
func (r *Resolver) ClearRunning() {
	r.update(func(old *state) *state {
		if old.running == "" {
			return nil
		}
		return &state{members: old.members, candidates: old.candidates}
	})
}

// update applies fn to the latest state. fn returns nil to keep it.
func (r *Resolver) update(fn func(*state) *state) {
	for {
		old := r.state.Load()
		next := fn(old)
		if next == nil || r.state.CompareAndSwap(old, next) {
			return
		}
	}
}

func validAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	p, err := strconv.Atoi(port)
	return err == nil && p > 0 && p < 65536
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
