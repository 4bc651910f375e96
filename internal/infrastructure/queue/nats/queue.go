package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
	"github.com/kirillkom/opinion-analyzer/internal/infrastructure/resilience"
)

const (
	workerQueueGroup = "analysis-workers"

	headerRequestID = "X-Request-Id"
	headerProjectID = "X-Project-Id"
)

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("opinion-analyzer"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishRunRequested(ctx context.Context, req domain.RunRequest) error {
	msg, err := newRunRequestMsg(q.subject, req)
	if err != nil {
		return err
	}
	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapPublishError(err)
	}
	return nil
}

// SubscribeRunRequested blocks until ctx is done, then drains the
// subscription. Messages that do not decode are logged and dropped.
func (q *Queue) SubscribeRunRequested(ctx context.Context, handler func(context.Context, domain.RunRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handleMessage(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func handleMessage(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.RunRequest) error) {
	req, err := decodeRunRequest(msg.Data)
	if err != nil {
		slog.Error("run_request_invalid",
			"error", err,
			"request_id", msg.Header.Get(headerRequestID),
			"payload_bytes", len(msg.Data),
		)
		return
	}
	if !req.EnqueuedAt.IsZero() {
		slog.Debug("run_request_received", "request_id", req.RequestID, "queued_for_ms", time.Since(req.EnqueuedAt).Milliseconds())
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, req); err != nil {
		slog.Error("run_request_failed",
			"project_id", req.ProjectID,
			"request_id", req.RequestID,
			"error", err,
		)
	}
}

// newRunRequestMsg carries the request and project ids as headers so they
// can be traced without decoding the payload.
func newRunRequestMsg(subject string, req domain.RunRequest) (*nats.Msg, error) {
	payload, err := encodeRunRequest(req)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set(headerProjectID, req.ProjectID)
	if req.RequestID != "" {
		msg.Header.Set(headerRequestID, req.RequestID)
	}
	return msg, nil
}

func encodeRunRequest(req domain.RunRequest) ([]byte, error) {
	if req.ProjectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode run request", errors.New("project id is required"))
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}
	return payload, nil
}

func decodeRunRequest(data []byte) (domain.RunRequest, error) {
	var req domain.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.RunRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode run request", err)
	}
	if req.ProjectID == "" {
		return domain.RunRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode run request", errors.New("project id is required"))
	}
	return req, nil
}
