package queue

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Channel the api's task repository notifies on insert.
const pendingChannel = "tasks_pending"

// Listener holds a dedicated connection on LISTEN tasks_pending and kicks
// the dispatcher whenever a notification arrives. The dispatcher's poll
// sweep covers notifications lost while reconnecting.
type Listener struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewListener(db *pgxpool.Pool, logger *zap.Logger) *Listener {
	return &Listener{db: db, logger: logger}
}

// Run listens until ctx ends, reconnecting with a short backoff on failure.
func (l *Listener) Run(ctx context.Context, dispatcher *Dispatcher) {
	for {
		if err := l.listen(ctx, dispatcher); err != nil {
			l.logger.Warn("Task notification listener error", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			l.logger.Info("Task notification listener stopped")
			return
		case <-time.After(time.Second):
		}
	}
}

func (l *Listener) listen(ctx context.Context, dispatcher *Dispatcher) error {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pendingChannel); err != nil {
		return err
	}

	l.logger.Info("Listening for task notifications", zap.String("channel", pendingChannel))

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		l.logger.Debug("Task notification received", zap.String("task_id", notification.Payload))
		dispatcher.Notify()
	}
}
