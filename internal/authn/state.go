package authn

import (
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"
)

const requestStateKey = "authn.request_state"

// requestState is owned by a single request and dropped with its gin.Context.
type requestState struct {
	group singleflight.Group

	mu         sync.Mutex
	results    map[string]*Result
	generation map[string]uint64
	terminal   bool
}

// Begin prepares c for authentication. It must run before the request fans
// out to goroutines that share c; the pipeline's authentication stage calls
// it first. Calling it again keeps the existing state.
func Begin(c *gin.Context) {
	stateFor(c)
}

// stateFor returns the state of c, creating it on first use. gin guards the
// context's keys with its own lock, so no lock is shared across requests.
func stateFor(c *gin.Context) *requestState {
	if v, ok := c.Get(requestStateKey); ok {
		if st, ok := v.(*requestState); ok {
			return st
		}
	}
	st := &requestState{
		results:    make(map[string]*Result),
		generation: make(map[string]uint64),
	}
	c.Set(requestStateKey, st)
	return st
}

func (st *requestState) cached(scheme string) (*Result, uint64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.results[scheme]
	return r, st.generation[scheme], ok
}

// store caches r unless the scheme was invalidated since gen was read.
func (st *requestState) store(scheme string, gen uint64, r *Result) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.generation[scheme] == gen {
		st.results[scheme] = r
	}
}

func (st *requestState) invalidate(scheme string) {
	st.mu.Lock()
	delete(st.results, scheme)
	st.generation[scheme]++
	st.mu.Unlock()
	st.group.Forget(scheme)
}

// claimTerminal records that a challenge or forbid was issued. It returns
// false if one already was.
func (st *requestState) claimTerminal() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.terminal {
		return false
	}
	st.terminal = true
	return true
}
