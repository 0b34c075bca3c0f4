package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mlevkov/tasksync/internal/remote"
)

// eventBuffer bounds how far a slow consumer may lag before the
// subscription drops its session and forces a resubscribe.
const eventBuffer = 64

// closeTimeout bounds the connection teardown after a subscription ends.
const closeTimeout = 5 * time.Second

// Listen opens a dedicated session subscribed to the (entity, account)
// notification channel and decodes inbound payloads into ChangeEvents.
func (c *Client) Listen(ctx context.Context, entity, accountID string) (remote.Subscription, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", entity, err)
	}

	channel := fmt.Sprintf("tasksync_%s_%s", entity, accountID)
	if _, err := conn.Exec(ctx, `LISTEN `+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", entity, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		entity: entity,
		conn:   conn,
		events: make(chan remote.ChangeEvent, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go sub.run(runCtx, c)
	return sub, nil
}

type subscription struct {
	entity string
	conn   *pgx.Conn
	events chan remote.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (s *subscription) Events() <-chan remote.ChangeEvent { return s.events }

func (s *subscription) Err() error {
	<-s.done
	return s.err
}

func (s *subscription) Close(ctx context.Context) error {
	s.cancel()
	<-s.done
	return nil
}

func (s *subscription) run(ctx context.Context, c *Client) {
	defer close(s.done)
	defer close(s.events)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = s.conn.Close(closeCtx)
	}()

	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // clean shutdown
			}
			s.err = err
			return
		}

		var ev remote.ChangeEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			c.logger.Warn(ctx, "dropping undecodable change event",
				"entity", s.entity, "error", err)
			continue
		}
		ev.Entity = s.entity

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		default:
			// Consumer lagged past the buffer; better to die and let the
			// subscriber resubscribe than to block the session.
			s.err = fmt.Errorf("change event buffer overflow on %s", s.entity)
			return
		}
	}
}
