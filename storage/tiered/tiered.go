// Package tiered provides a mirrored ledger that writes every entry to a
// durable primary ledger and copies it to a secondary one on a best-effort basis.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// Config configures the mirrored ledger behavior
type Config struct {
	// Primary is the source of truth (e.g., Airtable, Postgres). Its errors fail Record.
	Primary treemeter.Ledger

	// Secondary receives a copy of each recorded entry. Its errors are only reported.
	Secondary treemeter.Ledger

	// AsyncMirror enables non-blocking writes to the secondary ledger.
	// If false, the secondary is written inline after the primary.
	AsyncMirror bool

	// MirrorBufferSize is the size of the buffered channel for async writes.
	// Default: 1000
	MirrorBufferSize int

	// Logger receives mirror failures. Default: NoopLogger.
	Logger treemeter.Logger

	// MirrorErrorHandler is called when a secondary write fails.
	// Useful for monitoring drift between the two ledgers.
	MirrorErrorHandler func(error)
}

// Ledger writes to the primary ledger and mirrors to the secondary one.
type Ledger struct {
	primary   treemeter.Ledger
	secondary treemeter.Ledger
	conf      Config

	// Channel for async mirroring
	mirrorQueue chan *treemeter.LedgerEntry
	shutdown    chan struct{}
	wg          sync.WaitGroup

	// mu guards closed; enqueues hold the read lock so none can land after the drain
	mu     sync.RWMutex
	closed bool
}

// ErrClosed is reported for entries that could not be mirrored because the
// ledger was already closed.
var ErrClosed = errors.New("ledger closed")

// New creates a new mirrored ledger.
func New(config Config) (*Ledger, error) {
	if config.Primary == nil || config.Secondary == nil {
		return nil, errors.New("tiered ledger: both primary and secondary ledgers are required")
	}

	if config.MirrorBufferSize <= 0 {
		config.MirrorBufferSize = 1000
	}
	if config.Logger == nil {
		config.Logger = &treemeter.NoopLogger{}
	}

	l := &Ledger{
		primary:     config.Primary,
		secondary:   config.Secondary,
		conf:        config,
		mirrorQueue: make(chan *treemeter.LedgerEntry, config.MirrorBufferSize),
		shutdown:    make(chan struct{}),
	}

	if config.AsyncMirror {
		l.startWorker()
	}

	return l, nil
}

// Close drains pending mirror writes and stops the async worker (if enabled).
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.conf.AsyncMirror {
		close(l.shutdown)
		l.wg.Wait()
	}
	return nil
}

// startWorker runs the background mirror loop.
// Entries are mirrored sequentially in the order they were recorded.
func (l *Ledger) startWorker() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case entry := <-l.mirrorQueue:
				l.mirror(context.Background(), entry)
			case <-l.shutdown:
				// Drain queue on shutdown
				for {
					select {
					case entry := <-l.mirrorQueue:
						l.mirror(context.Background(), entry)
					default:
						return
					}
				}
			}
		}
	}()
}

// Record implements treemeter.Ledger.
// The primary write must succeed; the secondary never fails the call.
func (l *Ledger) Record(ctx context.Context, entry *treemeter.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("invalid ledger entry")
	}
	// Both ledgers must see the same id
	entry.EnsureID()

	if err := l.primary.Record(ctx, entry); err != nil {
		return err
	}

	copied := *entry
	if !l.conf.AsyncMirror {
		l.mirror(ctx, &copied)
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.report(&copied, ErrClosed)
		return nil
	}
	select {
	case l.mirrorQueue <- &copied:
	default:
		l.report(&copied, errors.New("mirror queue full"))
	}
	return nil
}

func (l *Ledger) mirror(ctx context.Context, entry *treemeter.LedgerEntry) {
	if err := l.secondary.Record(ctx, entry); err != nil {
		l.report(entry, err)
	}
}

func (l *Ledger) report(entry *treemeter.LedgerEntry, err error) {
	l.conf.Logger.Warn("ledger mirror write failed",
		treemeter.Field{Key: "entry_id", Value: entry.ID},
		treemeter.Field{Key: "stripe_id", Value: entry.StripeID},
		treemeter.Err(err),
	)
	if l.conf.MirrorErrorHandler != nil {
		l.conf.MirrorErrorHandler(fmt.Errorf("ledger mirror failed for %s: %w", entry.ID, err))
	}
}

var _ treemeter.Ledger = (*Ledger)(nil)
