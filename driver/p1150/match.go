package p1150

import (
	"sync"
	"time"
)

// retryInterval and maxRetries give an ~800ms overall command budget:
// 8 iterations of a 100ms wait each.
const (
	retryInterval = 100 * time.Millisecond
	maxRetries    = 8
)

// matcher implements the port-0 command/response protocol: a caller
// sends a CBOR payload and blocks until a response tagged with the same
// "f" key arrives, or the retry budget is exhausted.
//
// The design supports extension to multiple outstanding keys, since
// matching is by "f" and not by arrival order, but Controller enforces
// at most one call in flight by holding its own lock across sendAndWait.
type matcher struct {
	mu      sync.Mutex
	pending map[string][]Response
	waiting map[string]chan struct{}

	logger Logger
}

func newMatcher(logger Logger) *matcher {
	return &matcher{
		pending: make(map[string][]Response),
		waiting: make(map[string]chan struct{}),
		logger:  logger,
	}
}

// onFrame is the port-0 handler registered with the mux decoder. It
// must never be called concurrently with another onFrame for the
// transport's lifetime, since the reader-side dispatcher is single
// threaded.
func (m *matcher) onFrame(data []byte) {
	resp, err := decodeResponse(data)
	if err != nil {
		if m.logger != nil {
			m.logger.Printf("p1150: %v", err)
		}
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, waited := m.waiting[resp.F]
	if !waited {
		if m.logger != nil {
			m.logger.Printf("p1150: unexpected response for %q: %v", resp.F, resp.Fields)
		}
	}
	m.pending[resp.F] = append(m.pending[resp.F], resp)
	if waited {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// sendAndWait sends payload via send, then blocks for at most
// maxRetries*retryInterval for a response keyed by payload's "f" field.
// It returns the device's success flag and the full response list, or
// (false, nil) on timeout.
func (m *matcher) sendAndWait(payload Payload, send func([]byte) error) (bool, []Response, error) {
	f, _ := payload["f"].(string)

	m.mu.Lock()
	delete(m.pending, f)
	ch := make(chan struct{}, 1)
	m.waiting[f] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.waiting, f)
		m.mu.Unlock()
	}()

	data, err := encodePayload(payload)
	if err != nil {
		return false, nil, err
	}
	if err := send(data); err != nil {
		return false, nil, err
	}

	for retries := maxRetries; retries > 0; retries-- {
		select {
		case <-ch:
		case <-time.After(retryInterval):
		}

		m.mu.Lock()
		resp := m.pending[f]
		if len(resp) > 0 {
			delete(m.pending, f)
			m.mu.Unlock()
			return resp[len(resp)-1].S, resp, nil
		}
		m.mu.Unlock()

		if m.logger != nil {
			switch {
			case retries == 1:
				m.logger.Printf("p1150: %s timeout", f)
			case retries <= 4:
				m.logger.Printf("p1150: %s timeout, %d retries left", f, retries-1)
			}
		}
	}
	return false, nil, nil
}
