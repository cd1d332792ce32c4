package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Serve reads requests from codec until the stream ends or ctx is
// canceled, running each as its own task. Events from concurrent tasks
// are written as they arrive. Serve returns after every task has ended.
func (a *Adapter) Serve(ctx context.Context, codec Codec) error {
	var (
		wg      sync.WaitGroup
		encMu   sync.Mutex
		encErr  error
		errOnce sync.Once
	)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	forward := func(events <-chan Event) {
		for ev := range events {
			encMu.Lock()
			err := codec.Encode(ev)
			encMu.Unlock()
			if err != nil {
				errOnce.Do(func() { encErr = fmt.Errorf("encode %s: %w", ev.Kind(), err) })
				cancel()
			}
		}
	}

	var readErr error
	for {
		var req Request
		if err := codec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = fmt.Errorf("decode request: %w", err)
			}
			break
		}
		if ctx.Err() != nil {
			break
		}
		a.logger.Debug("message received", "msg_type", req.MsgType, "name", req.Name)
		events := a.Handle(ctx, req)
		wg.Go(func() { forward(events) })
	}

	wg.Wait()
	if readErr != nil {
		return readErr
	}
	return encErr
}
