package message

import (
	"time"

	"github.com/oltp-incubator/tinyoltp/oltp/storage"
)

// Callback is a one-shot result sender for cross-partition work. The
// executor delivers exactly one WorkResult (result or error) through it.
type Callback struct {
	Resp *storage.WorkResult
	done chan struct{}
}

func NewCallback() *Callback {
	done := make(chan struct{}, 1)
	cb := &Callback{done: done}
	return cb
}

func (cb *Callback) Done(resp *storage.WorkResult) {
	if cb == nil {
		return
	}
	if resp != nil {
		cb.Resp = resp
	}
	select {
	case cb.done <- struct{}{}:
	default:
	}
}

func (cb *Callback) WaitResp() *storage.WorkResult {
	<-cb.done
	return cb.Resp
}

func (cb *Callback) WaitRespWithTimeout(timeout time.Duration) *storage.WorkResult {
	select {
	case <-cb.done:
		return cb.Resp
	case <-time.After(timeout):
		return cb.Resp
	}
}

// Chan exposes the completion signal so callers can select on it together
// with other events.
func (cb *Callback) Chan() <-chan struct{} {
	return cb.done
}
