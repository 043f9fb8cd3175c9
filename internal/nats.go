package internal

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const runWorkerQueue = "pipeline-runners"

type NATSClient struct {
	Conn   *nats.Conn
	logger *Logger
}

func NewNATSClient(cfg *Config, logger *Logger) (*NATSClient, error) {
	conn, err := nats.Connect(cfg.NATSUrl,
		nats.Name(cfg.NATSClientID),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &NATSClient{Conn: conn, logger: logger}, nil
}

func (nc *NATSClient) Publish(subject string, data []byte) error {
	return nc.Conn.Publish(subject, data)
}

func (nc *NATSClient) Close() {
	if nc.Conn != nil {
		nc.Conn.Drain()
	}
}

// AlertEvent is the message body published on the alert subject.
type AlertEvent struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Service  string    `json:"service"`
	SentAt   time.Time `json:"sent_at"`
}

// natsPublisher is the part of NATSClient the alert notifier uses.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes alerts for other services to consume.
type NATSNotifier struct {
	publisher natsPublisher
	subject   string
}

func NewNATSNotifier(publisher natsPublisher, subject string) *NATSNotifier {
	return &NATSNotifier{publisher: publisher, subject: subject}
}

func (n *NATSNotifier) Notify(_ context.Context, message string, severity Severity) error {
	data, err := json.Marshal(AlertEvent{
		Severity: severity,
		Message:  message,
		Service:  "lol-pipeline",
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := n.publisher.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish alert on %s: %w", n.subject, err)
	}
	return nil
}

func NewPipelineRunTask(mode RunMode, region string) PipelineRunTask {
	return PipelineRunTask{
		RunID:       uuid.New().String(),
		Mode:        mode,
		Region:      region,
		RequestedAt: time.Now().UTC(),
	}
}

func (nc *NATSClient) PublishRunTask(subject string, task PipelineRunTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return nc.Publish(subject, data)
}

// RunHandler executes one scheduled run.
type RunHandler func(ctx context.Context, task PipelineRunTask)

// StartRunWorker consumes run tasks on a queue group. The subscription
// delivers one message at a time, so runs never overlap in this process.
func (nc *NATSClient) StartRunWorker(ctx context.Context, subject string, handle RunHandler) (*nats.Subscription, error) {
	handler := func(msg *nats.Msg) {
		processRunTask(ctx, msg.Data, handle, nc.logger)
	}

	sub, err := nc.Conn.QueueSubscribe(subject, runWorkerQueue, handler)
	if err != nil {
		return nil, err
	}
	nc.logger.Info("run_worker_started").
		Component("nats").
		Operation("queue_subscribe").
		Meta("subject", subject).
		Meta("queue", runWorkerQueue).
		Log()
	return sub, nil
}

func processRunTask(ctx context.Context, data []byte, handle RunHandler, logger *Logger) {
	var task PipelineRunTask
	if err := json.Unmarshal(data, &task); err != nil {
		logger.Error("run_task_decode_failed").
			Component("nats").
			Operation("process_run_task").
			Err(err).
			Log()
		return
	}
	if !task.Mode.Valid() {
		logger.Warn("run_task_unknown_mode").
			Component("nats").
			Operation("process_run_task").
			Run(task.RunID).
			Meta("mode", task.Mode).
			Log()
		return
	}
	if ctx.Err() != nil {
		return
	}
	handle(ctx, task)
}
