package transport

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"muxrpc/codec"
	"muxrpc/message"
)

// Call is one outstanding request on a ClientTransport. It is owned by the
// pending table from Send until exactly one of response arrival, Abandon, or
// connection teardown retires it; Done is closed at that moment.
type Call struct {
	ID          uint32
	ServiceName string
	MethodName  string

	// Set before Done is closed. On success Response is the decoded envelope
	// (whose Status may still be a remote failure) and Codec is the codec it
	// arrived in; otherwise Err says why the call was retired locally.
	Response *message.Response
	Codec    codec.Codec
	Err      error

	done chan struct{}
}

func newCall(service, method string) *Call {
	return &Call{ServiceName: service, MethodName: method, done: make(chan struct{})}
}

// Done is closed once the call is retired.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

var errIDSpaceExhausted = errors.New("transport: no free call id")

// pendingTable maps CallIds to outstanding calls. Removing an entry is the
// single atomic claim on a call: whoever removes it completes it.
type pendingTable struct {
	mu     sync.Mutex
	seq    uint32
	calls  map[uint32]*Call
	closed error // set once the connection is torn down
}

// register assigns call a CallId not held by any outstanding call and stores
// it. Id 0 is never handed out.
func (p *pendingTable) register(call *Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return p.closed
	}
	if p.calls == nil {
		p.calls = make(map[uint32]*Call)
	}
	if len(p.calls) >= math.MaxUint32-1 {
		return errIDSpaceExhausted
	}
	for {
		p.seq++
		if p.seq == 0 {
			continue
		}
		if _, busy := p.calls[p.seq]; !busy {
			break
		}
	}
	call.ID = p.seq
	p.calls[call.ID] = call
	return nil
}

// retire removes and returns the call for id, or nil if it was already
// retired (answered, abandoned, or torn down).
func (p *pendingTable) retire(id uint32) *Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.calls[id]
	if !ok {
		return nil
	}
	delete(p.calls, id)
	return call
}

// close refuses further registrations with err and hands back every call
// still outstanding.
func (p *pendingTable) close(err error) []*Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed == nil {
		p.closed = err
	}
	calls := make([]*Call, 0, len(p.calls))
	for id, call := range p.calls {
		calls = append(calls, call)
		delete(p.calls, id)
	}
	return calls
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
