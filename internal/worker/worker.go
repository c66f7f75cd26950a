// Package worker runs background migration of legacy chat rows on a
// Redis-backed asynq queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ga4u/internal/conversation"
	"ga4u/internal/metrics"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	TaskReconcile = "chat:reconcile"
	QueueChat     = "chat"

	reconcileUniqueTTL = 10 * time.Minute
	reconcileMaxRetry  = 5
)

type reconcilePayload struct {
	ConversationID string `json:"conversation_id"`
}

// Reconciler copies legacy rows of one conversation into the unified tables.
type Reconciler interface {
	Reconcile(ctx context.Context, conv conversation.ID) (int, error)
}

// Queue enqueues reconcile tasks.
type Queue struct {
	client *asynq.Client
}

func NewQueue(redisAddr string) *Queue {
	return &Queue{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func NewReconcileTask(conv conversation.ID) (*asynq.Task, error) {
	payload, err := json.Marshal(reconcilePayload{ConversationID: conv.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, payload), nil
}

// EnqueueReconcile schedules a reconcile of conv. A task already pending for
// the same conversation absorbs the request.
func (q *Queue) EnqueueReconcile(ctx context.Context, conv conversation.ID) error {
	task, err := NewReconcileTask(conv)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueChat),
		asynq.MaxRetry(reconcileMaxRetry),
		asynq.Unique(reconcileUniqueTTL),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskReconcile, err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// HandleReconcile returns the asynq handler for TaskReconcile. Payloads that
// can never succeed are not retried.
func HandleReconcile(r Reconciler, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p reconcilePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		conv, err := conversation.Parse(p.ConversationID)
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}

		n, err := r.Reconcile(ctx, conv)
		metrics.RecordReconcile(n, err)
		if err != nil {
			return err
		}
		log.Debug().Str("conversation_id", conv.String()).Int("copied", n).Msg("reconcile done")
		return nil
	}
}

// Server consumes the chat queue.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisAddr string, concurrency int, r Reconciler, log zerolog.Logger) *Server {
	log = log.With().Str("component", "worker").Logger()
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueChat: 1},
		Logger:      asynqLogger{log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("type", task.Type()).Msg("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TaskReconcile, HandleReconcile(r, log))
	return &Server{server: srv, mux: mux}
}

// Run starts the server and blocks until ctx is canceled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
