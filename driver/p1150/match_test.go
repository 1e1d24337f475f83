package p1150

import (
	"testing"
	"time"
)

func TestMatcherCorrelatesByF(t *testing.T) {
	m := newMatcher(nil)

	send := func(data []byte) error {
		go func() {
			// Deliver a response for another key first, then one tagged
			// with whatever "f" the caller sent, to exercise
			// correlation-by-key rather than by arrival order.
			var fields map[string]any
			if err := decMode.Unmarshal(data, &fields); err != nil {
				t.Error(err)
				return
			}
			other, _ := encodePayload(Payload{"f": "cmd_other", "s": false})
			m.onFrame(other)
			resp, _ := encodePayload(Payload{"f": fields["f"], "s": true})
			m.onFrame(resp)
		}()
		return nil
	}

	ok, resps, err := m.sendAndWait(Payload{"f": "cmd_status"}, send)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected success")
	}
	if len(resps) != 1 || resps[0].F != "cmd_status" {
		t.Fatalf("got %+v", resps)
	}
}

func TestMatcherTimesOutWithoutResponse(t *testing.T) {
	m := newMatcher(nil)
	start := time.Now()
	ok, resps, err := m.sendAndWait(Payload{"f": "x-1"}, func([]byte) error { return nil })
	elapsed := time.Since(start)
	if err != nil {
		t.Fatal(err)
	}
	if ok || resps != nil {
		t.Fatalf("expected timeout, got ok=%v resps=%v", ok, resps)
	}
	if elapsed < maxRetries*retryInterval {
		t.Errorf("returned too early: %v", elapsed)
	}
}

func TestMatcherUnexpectedResponseRecorded(t *testing.T) {
	m := newMatcher(nil)
	resp, _ := encodePayload(Payload{"f": "nobody-waiting", "s": true})
	m.onFrame(resp) // must not panic or block
	if len(m.pending["nobody-waiting"]) != 1 {
		t.Error("expected the response to still be recorded as pending")
	}
}
