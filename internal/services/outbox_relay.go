package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-bidding/internal/domain"
	"marketplace-bidding/pkg/logger"

	"github.com/robfig/cron/v3"
)

type OutboxRelayConfig struct {
	SweepInterval time.Duration
	BatchSize     int
	QueueSize     int
	MaxAttempts   int
}

// OutboxRelay delivers committed notification rows outside the bid transaction.
// Freshly committed events arrive through Enqueue; a cron sweep picks up
// anything that was dropped or failed. Delivery is at-least-once.
type OutboxRelay struct {
	repo       domain.OutboxRepository
	dispatcher domain.NotificationDispatcher
	cfg        OutboxRelayConfig
	queue      chan *domain.NotificationEvent
	cron       *cron.Cron
	log        logger.Logger
	wg         sync.WaitGroup
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewOutboxRelay(repo domain.OutboxRepository, dispatcher domain.NotificationDispatcher,
	cfg OutboxRelayConfig, log logger.Logger) *OutboxRelay {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	return &OutboxRelay{
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg,
		queue:      make(chan *domain.NotificationEvent, cfg.QueueSize),
		cron:       cron.New(cron.WithSeconds()),
		log:        log,
		stop:       make(chan struct{}),
	}
}

// Enqueue hands events to the delivery worker and returns how many were accepted.
// A full queue drops the event; the sweep delivers it later from the outbox table.
func (r *OutboxRelay) Enqueue(events ...*domain.NotificationEvent) int {
	queued := 0
	for _, ev := range events {
		select {
		case r.queue <- ev:
			queued++
		default:
			r.log.Warn("Outbox queue full, deferring to sweep", "event_id", ev.ID, "kind", ev.Kind)
		}
	}
	return queued
}

func (r *OutboxRelay) Start(ctx context.Context) error {
	r.log.Info("Starting outbox relay", "sweep_interval", r.cfg.SweepInterval)

	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.cfg.SweepInterval), func() {
		r.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go r.run(ctx)

	r.cron.Start()
	return nil
}

func (r *OutboxRelay) Stop() error {
	r.log.Info("Stopping outbox relay")
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.cron.Stop().Done()
	r.wg.Wait()
	return nil
}

func (r *OutboxRelay) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep redelivers outbox rows that are still pending.
func (r *OutboxRelay) Sweep(ctx context.Context) {
	events, err := r.repo.PendingEvents(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		r.log.Error("Failed to load pending notifications", "error", err)
		return
	}
	for _, ev := range events {
		r.deliver(ctx, ev)
	}
}

func (r *OutboxRelay) deliver(ctx context.Context, ev *domain.NotificationEvent) {
	if err := r.dispatcher.Dispatch(ctx, ev); err != nil {
		r.log.Error("Failed to dispatch notification", "event_id", ev.ID, "kind", ev.Kind,
			"auction_id", ev.AuctionID, "error", err)
		if err := r.repo.MarkFailed(ctx, ev.ID, err.Error()); err != nil {
			r.log.Error("Failed to record notification failure", "event_id", ev.ID, "error", err)
		}
		return
	}
	if err := r.repo.MarkDelivered(ctx, ev.ID); err != nil {
		r.log.Error("Failed to mark notification delivered", "event_id", ev.ID, "error", err)
	}
}
