package sysdb

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	notificationsChannel  = "dbos_notifications_channel"
	workflowEventsChannel = "dbos_workflow_events_channel"

	listenerPollTimeout      = 60 * time.Second
	listenerReconnectBackoff = time.Second
)

// runNotificationListener holds a dedicated connection in LISTEN mode and
// fans incoming NOTIFY payloads out to in-process waiters. The connection is
// deliberately not taken from the pool: a pooled connection may be handed to
// another caller between NOTIFY deliveries, silently dropping them. Any
// failure tears the connection down and reconnects after a short pause;
// waiters always re-probe the database after waking, so a dropped NOTIFY is
// at worst a delayed wakeup, never a lost message.
func (s *SysDB) runNotificationListener(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := pgx.Connect(ctx, s.connString)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("notification listener connect failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenerReconnectBackoff):
			}
			continue
		}

		err = s.listen(ctx, conn)
		conn.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Error("notification listener error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenerReconnectBackoff):
			}
		}
	}
}

func (s *SysDB) listen(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, "LISTEN "+notificationsChannel); err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+workflowEventsChannel); err != nil {
		return err
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, listenerPollTimeout)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				continue
			}
			return err
		}

		s.logger.Debug("received notification",
			"channel", notification.Channel, "payload", notification.Payload)

		switch notification.Channel {
		case notificationsChannel:
			s.notifications.broadcast(notification.Payload)
			if s.metrics != nil {
				s.metrics.NotificationsDelivered.Inc()
			}
		case workflowEventsChannel:
			s.workflowEvents.broadcast(notification.Payload)
			if s.metrics != nil {
				s.metrics.NotificationsDelivered.Inc()
			}
		default:
			s.logger.Error("unknown notification channel", "channel", notification.Channel)
		}
	}
}
