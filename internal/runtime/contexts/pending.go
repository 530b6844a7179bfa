package contexts

import (
	"context"
	"errors"
	"fmt"
	"time"

	errspkg "github.com/drblury/botcomet/internal/runtime/errors"
	"github.com/drblury/botcomet/internal/runtime/ids"
	"github.com/drblury/botcomet/internal/runtime/protocol"
)

// Pending is an outstanding request whose response is delivered on C.
type Pending struct {
	Token string
	C     <-chan protocol.Message
}

// Open registers a fresh token for a request of type expected. The
// response is handed to the returned Pending by Deliver.
func (c *Cache) Open(expected protocol.MessageType) (Pending, error) {
	ch := make(chan protocol.Message, 1)
	var err error
	for range 4 {
		token := ids.CreateULID()
		if err = c.Create(token, expected, ch); err == nil {
			return Pending{Token: token, C: ch}, nil
		}
		if !errors.Is(err, errspkg.ErrContextExists) {
			break
		}
	}
	return Pending{}, err
}

// Deliver resolves m.Context and hands m to the waiter registered by Open.
// Entries created with Create directly resolve but are not handed anything.
func (c *Cache) Deliver(m protocol.Message) error {
	payload, err := c.Resolve(m.Context, m.Type)
	if err != nil {
		return err
	}
	ch, ok := payload.(chan protocol.Message)
	if !ok {
		return nil
	}
	select {
	case ch <- m:
	default:
	}
	return nil
}

// Await blocks until p's response arrives, timeout elapses, ctx is done or
// closed is closed. Any outcome other than a response abandons the entry.
// A non-positive timeout waits without a deadline of its own.
func (c *Cache) Await(ctx context.Context, p Pending, timeout time.Duration, closed <-chan struct{}) (protocol.Message, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case m := <-p.C:
		return m, nil
	case <-expired:
		c.Delete(p.Token)
		return protocol.Message{}, fmt.Errorf("%w: no response after %s", errspkg.ErrContextTimeout, timeout)
	case <-ctx.Done():
		c.Delete(p.Token)
		return protocol.Message{}, ctx.Err()
	case <-closed:
		c.Delete(p.Token)
		return protocol.Message{}, errspkg.ErrNotConnected
	}
}
