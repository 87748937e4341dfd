// Package queue carries enrichment work from the API process to the worker
// through asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mail-archive-search/internal/logger"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	TaskEnrichMails = "mail:enrich"

	QueueDefault = "default"
)

// EnrichPayload names the mails of one import batch to enrich.
type EnrichPayload struct {
	ImportID string   `json:"import_id"`
	MailIDs  []string `json:"mail_ids"`
}

// NewEnrichTask builds an enrichment task. Enrichment is best effort, so the
// task is never retried.
func NewEnrichTask(importID string, mailIDs []string, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(EnrichPayload{
		ImportID: importID,
		MailIDs:  mailIDs,
	})
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = 2 * time.Hour
	}

	return asynq.NewTask(
		TaskEnrichMails,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Queue(QueueDefault),
	), nil
}

// Enricher runs enrichment over a list of mails.
type Enricher interface {
	EnrichBatch(ctx context.Context, ids []string) error
}

// TaskProcessor handles queued tasks in the worker.
type TaskProcessor struct {
	enricher Enricher
	log      *slog.Logger
}

func NewTaskProcessor(enricher Enricher, log *slog.Logger) *TaskProcessor {
	return &TaskProcessor{
		enricher: enricher,
		log:      logger.OrDefault(log),
	}
}

func (p *TaskProcessor) HandleEnrichTask(ctx context.Context, t *asynq.Task) error {
	var payload EnrichPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if len(payload.MailIDs) == 0 {
		return nil
	}

	p.log.Info("Enriching import batch", "import_id", payload.ImportID, "mails", len(payload.MailIDs))
	if err := p.enricher.EnrichBatch(ctx, payload.MailIDs); err != nil {
		return fmt.Errorf("enrich import %s: %v: %w", payload.ImportID, err, asynq.SkipRetry)
	}
	return nil
}

// Dispatcher enqueues enrichment work for the worker.
type Dispatcher struct {
	client  *asynq.Client
	timeout time.Duration
}

func NewDispatcher(client *asynq.Client, timeout time.Duration) *Dispatcher {
	return &Dispatcher{client: client, timeout: timeout}
}

// Dispatch enqueues one task for the batch and reports the mode used.
func (d *Dispatcher) Dispatch(ctx context.Context, importID string, ids []string) (string, error) {
	task, err := NewEnrichTask(importID, ids, d.timeout)
	if err != nil {
		return "", err
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue enrichment: %w", err)
	}
	return "queued", nil
}

// RedisConnOpt converts go-redis options into the asynq connection options.
func RedisConnOpt(opt *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Network:   opt.Network,
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}
}
