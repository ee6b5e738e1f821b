// Package syncengine keeps a client's product collection in step with the
// server across connectivity changes.
//
// An Engine is an actor: a single goroutine owns the collection and applies
// closures posted to it. Network calls run on the caller's goroutine and post
// their results back, so every result is checked against its context and the
// load generation before it touches state.
package syncengine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/connectivity"
	"github.com/erauner12/productsync/internal/kvstore"
	"github.com/erauner12/productsync/internal/livefeed"
	"github.com/erauner12/productsync/internal/offlinequeue"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned by operations on a closed engine
	ErrClosed = errors.New("sync engine closed")
	// ErrMissingToken is the fetch error recorded when Load gets no token
	ErrMissingToken = errors.New("no auth token")
)

// Remote is the server API the engine writes through.
// SetToken selects the identity every later call is made with.
type Remote interface {
	SetToken(token string)
	List(ctx context.Context) ([]catalog.Product, error)
	Create(ctx context.Context, p catalog.Product) (catalog.Product, error)
	Update(ctx context.Context, p catalog.Product) (catalog.Product, error)
}

// LiveOpener opens the push channel. onEvent is called from a single
// goroutine until the returned Closer is closed.
type LiveOpener interface {
	Subscribe(ctx context.Context, token string, onEvent func(livefeed.Event)) (io.Closer, error)
}

// Options wires an Engine to its collaborators. Live and Monitor are optional.
type Options struct {
	Remote  Remote
	Live    LiveOpener
	KV      kvstore.Store
	Queue   *offlinequeue.Queue
	Monitor connectivity.Monitor
	Logger  zerolog.Logger
}

// Snapshot is a copy of the engine's read model
type Snapshot struct {
	Products       []catalog.Product
	Fetching       bool
	FetchErr       error
	Saving         bool
	SaveErr        error
	Connected      bool
	ConnectionType string
	// Pending counts offline writes waiting for the next reconnect
	Pending int
}

// Engine owns the canonical product collection
type Engine struct {
	remote  Remote
	live    LiveOpener
	kv      kvstore.Store
	queue   *offlinequeue.Queue
	monitor connectivity.Monitor
	logger  zerolog.Logger

	ops       chan func()
	quit      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func()
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by the loop goroutine
	products    []catalog.Product
	fetching    bool
	fetchErr    error
	saving      int
	saveErr     error
	status      connectivity.Status
	pending     int
	token       string
	loadGen     uint64
	applied     map[int64]bool // queue entries already merged into products
	liveConn    io.Closer
	liveCancel  context.CancelFunc
	liveOpening bool

	mu      sync.RWMutex
	snap    Snapshot
	changes chan struct{}
}

// New starts an engine. The initial connectivity comes from the monitor,
// which is then followed until Close.
func New(opts Options) *Engine {
	if opts.Monitor == nil {
		opts.Monitor = connectivity.NewManual(connectivity.Online)
	}
	if opts.KV == nil {
		opts.KV = kvstore.NewMemory()
	}
	if opts.Queue == nil {
		opts.Queue = offlinequeue.New(opts.KV)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		remote:  opts.Remote,
		live:    opts.Live,
		kv:      opts.KV,
		queue:   opts.Queue,
		monitor: opts.Monitor,
		logger:  opts.Logger.With().Str("component", "sync").Logger(),
		ops:     make(chan func()),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		applied: make(map[int64]bool),
		changes: make(chan struct{}, 1),
	}

	// Subscribe before sampling so a change in between is delivered
	statuses, stop := e.monitor.Subscribe()
	e.stopWatch = stop
	e.status = e.monitor.Current()
	e.publish()

	e.wg.Add(2)
	go e.run()
	go e.watch(statuses)
	return e
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.ops:
			fn()
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) watch(statuses <-chan connectivity.Status) {
	defer e.wg.Done()
	for {
		select {
		case s, ok := <-statuses:
			if !ok {
				return
			}
			if err := e.OnConnectivityChanged(e.ctx, s); err != nil && e.ctx.Err() == nil {
				e.logger.Warn().Err(err).Bool("connected", s.Connected).Msg("connectivity change handling failed")
			}
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it
func (e *Engine) do(ctx context.Context, fn func()) error {
	select {
	case <-e.quit:
		return ErrClosed
	default:
	}

	ran := make(chan struct{})
	select {
	case e.ops <- func() { defer close(ran); fn() }:
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-ran
	return nil
}

// post queues fn on the loop without waiting for it to run
func (e *Engine) post(ctx context.Context, fn func()) {
	select {
	case e.ops <- fn:
	case <-e.quit:
	case <-ctx.Done():
	}
}

// opContext derives a context that also ends when the engine closes
func (e *Engine) opContext(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// publish copies loop state into the snapshot readers see. Loop only.
func (e *Engine) publish() {
	s := Snapshot{
		Products:       append([]catalog.Product(nil), e.products...),
		Fetching:       e.fetching,
		FetchErr:       e.fetchErr,
		Saving:         e.saving > 0,
		SaveErr:        e.saveErr,
		Connected:      e.status.Connected,
		ConnectionType: e.status.Type,
		Pending:        e.pending,
	}

	e.mu.Lock()
	e.snap = s
	e.mu.Unlock()

	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current read model
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.snap
	s.Products = append([]catalog.Product(nil), s.Products...)
	return s
}

// Changes signals after the read model changes. Signals coalesce: one
// receive may stand for several updates, so readers should take a fresh
// Snapshot each time.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

// Load fetches the full collection with token. On success the collection is
// replaced and a durable snapshot is written. On failure, or while offline,
// the durable snapshot is restored if the collection is empty and queued
// offline writes are merged over it; the fetch error is recorded and returned.
// A load superseded by a newer one or by Close changes nothing.
func (e *Engine) Load(ctx context.Context, token string) error {
	ctx, done := e.opContext(ctx)
	defer done()

	var (
		gen         uint64
		connected   bool
		stale       io.Closer
		staleCancel context.CancelFunc
	)
	if err := e.do(ctx, func() {
		if token != e.token && e.liveConn != nil {
			stale, staleCancel = e.liveConn, e.liveCancel
			e.liveConn, e.liveCancel = nil, nil
		}
		if strings.TrimSpace(token) != "" {
			e.remote.SetToken(token)
		}
		e.token = token
		e.loadGen++
		gen = e.loadGen
		e.fetching = true
		e.fetchErr = nil
		connected = e.status.Connected
		e.publish()
	}); err != nil {
		return err
	}
	if stale != nil {
		staleCancel()
		if err := stale.Close(); err != nil {
			e.logger.Debug().Err(err).Msg("live channel close")
		}
	}
	defer func() {
		_ = e.do(e.ctx, func() {
			if gen == e.loadGen && e.fetching {
				e.fetching = false
				e.publish()
			}
		})
	}()

	var (
		fetched []catalog.Product
		err     error
	)
	switch {
	case strings.TrimSpace(token) == "":
		err = ErrMissingToken
	case !connected:
		err = catalog.Errorf(catalog.KindNetwork, "offline")
	default:
		fetched, err = e.remote.List(ctx)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	queued, qerr := e.queue.DrainAll(ctx)
	if qerr != nil {
		e.logger.Warn().Err(qerr).Msg("failed to read offline queue")
	}

	if err == nil {
		return e.applyLoad(ctx, gen, fetched, queued, qerr)
	}

	e.logger.Warn().Err(err).Str("kind", string(catalog.KindOf(err))).Msg("product fetch failed, using local data")
	restored, rerr := restoreSnapshot(ctx, e.kv)
	if rerr != nil {
		e.logger.Warn().Err(rerr).Msg("failed to restore durable snapshot")
	}

	if aerr := e.do(ctx, func() {
		if ctx.Err() != nil || gen != e.loadGen {
			return
		}
		if len(e.products) == 0 && rerr == nil {
			e.products = restored
		}
		if qerr == nil {
			for _, entry := range queued {
				if !e.applied[entry.Seq] {
					e.products = Merge(e.products, entry.Product)
					e.applied[entry.Seq] = true
				}
			}
			e.pending = len(queued)
		}
		e.fetching = false
		e.fetchErr = err
		e.publish()
	}); aerr != nil {
		return aerr
	}
	return err
}

func (e *Engine) applyLoad(ctx context.Context, gen uint64, fetched []catalog.Product, queued []offlinequeue.Entry, qerr error) error {
	applied := false
	if err := e.do(ctx, func() {
		if ctx.Err() != nil || gen != e.loadGen {
			return
		}
		e.products = fetched
		e.applied = make(map[int64]bool)
		if qerr == nil {
			e.pending = len(queued)
		}
		e.fetching = false
		e.publish()
		applied = true
	}); err != nil {
		return err
	}
	if !applied {
		return ctx.Err()
	}

	e.logger.Debug().Int("count", len(fetched)).Msg("products loaded")
	if err := persistSnapshot(context.WithoutCancel(ctx), e.kv, fetched); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist durable snapshot")
	}
	e.ensureLive(ctx)
	return nil
}

// Save writes p. While disconnected it is queued durably and merged
// optimistically; the only error is a failure to persist the queue. While
// connected it is created (no id) or updated (declaring p.Version) on the
// server, and the returned record is merged. Online failures are recorded
// and returned without touching the collection.
func (e *Engine) Save(ctx context.Context, p catalog.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	ctx, done := e.opContext(ctx)
	defer done()

	var connected bool
	if err := e.do(ctx, func() {
		connected = e.status.Connected
		if connected {
			e.saving++
			e.saveErr = nil
			e.publish()
		}
	}); err != nil {
		return err
	}

	if !connected {
		return e.saveOffline(ctx, p)
	}

	saved, err := e.send(ctx, p)
	if derr := e.do(e.ctx, func() {
		e.saving--
		switch {
		case ctx.Err() != nil:
		case err != nil:
			e.saveErr = err
		default:
			e.products = Merge(e.products, saved)
		}
		e.publish()
	}); derr != nil {
		return derr
	}

	if err != nil {
		e.logger.Warn().Err(err).Str("id", p.ID).Str("kind", string(catalog.KindOf(err))).Msg("save failed")
		return err
	}
	return ctx.Err()
}

func (e *Engine) saveOffline(ctx context.Context, p catalog.Product) error {
	entry, err := e.queue.Enqueue(ctx, p)
	if err != nil {
		return catalog.Wrap(catalog.KindUnexpected, err, "failed to queue offline write")
	}
	e.logger.Info().Int64("seq", entry.Seq).Str("id", p.ID).Msg("product saved offline")

	// The entry is durable now, so it is applied even if ctx has ended
	return e.do(e.ctx, func() {
		e.applied[entry.Seq] = true
		e.products = Merge(e.products, p)
		e.pending++
		e.publish()
	})
}

func (e *Engine) send(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if p.Assigned() {
		return e.remote.Update(ctx, p)
	}
	return e.remote.Create(ctx, p)
}

// OnPush merges a created or updated record from the live channel.
// Other events are ignored.
func (e *Engine) OnPush(ev livefeed.Event) error {
	return e.do(e.ctx, func() { e.applyPush(ev) })
}

func (e *Engine) applyPush(ev livefeed.Event) {
	switch ev.Type {
	case livefeed.FrameCreated, livefeed.FrameUpdated:
		if !ev.Product.Assigned() {
			return
		}
		e.products = Merge(e.products, ev.Product)
		e.publish()
	default:
		e.logger.Debug().Str("type", string(ev.Type)).Str("id", ev.Product.ID).Msg("ignoring live event")
	}
}

// OnConnectivityChanged records s. Losing connectivity tears down the live
// channel; regaining it runs a reconcile pass.
func (e *Engine) OnConnectivityChanged(ctx context.Context, s connectivity.Status) error {
	ctx, done := e.opContext(ctx)
	defer done()

	var (
		was        bool
		conn       io.Closer
		liveCancel context.CancelFunc
	)
	if err := e.do(ctx, func() {
		was = e.status.Connected
		e.status = s
		if !s.Connected && e.liveConn != nil {
			conn, liveCancel = e.liveConn, e.liveCancel
			e.liveConn, e.liveCancel = nil, nil
		}
		e.publish()
	}); err != nil {
		return err
	}

	if conn != nil {
		liveCancel()
		if err := conn.Close(); err != nil {
			e.logger.Debug().Err(err).Msg("live channel close")
		}
	}

	if s.Connected && !was {
		e.logger.Info().Str("type", s.Type).Msg("connectivity restored, reconciling")
		return e.reconcile(ctx)
	}
	return nil
}

// reconcile replays the offline queue in order, writes back only the entries
// that failed, reopens the live channel and reloads.
func (e *Engine) reconcile(ctx context.Context) error {
	entries, err := e.queue.DrainAll(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to read offline queue")
	} else if len(entries) > 0 {
		e.replay(ctx, entries)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var token string
	if err := e.do(ctx, func() { token = e.token }); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return nil
	}
	e.ensureLive(ctx)
	return e.Load(ctx, token)
}

func (e *Engine) replay(ctx context.Context, entries []offlinequeue.Entry) {
	var failed []offlinequeue.Entry
	for i, entry := range entries {
		if ctx.Err() != nil {
			failed = append(failed, entries[i:]...)
			break
		}

		saved, err := e.send(ctx, entry.Product)
		if err != nil {
			e.logger.Warn().Err(err).
				Int64("seq", entry.Seq).
				Str("id", entry.Product.ID).
				Str("kind", string(catalog.KindOf(err))).
				Msg("offline write replay failed, keeping it queued")
			failed = append(failed, entry)
			continue
		}

		local := entry.Product
		_ = e.do(ctx, func() {
			if ctx.Err() != nil {
				return
			}
			e.products = settle(e.products, local, saved)
			e.publish()
		})
	}

	wctx := context.WithoutCancel(ctx)
	through := entries[len(entries)-1].Seq
	if err := e.queue.WriteBack(wctx, through, failed); err != nil {
		e.logger.Error().Err(err).Msg("failed to write back offline queue")
		return
	}
	remaining, err := e.queue.DrainAll(wctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to read offline queue")
		return
	}

	e.logger.Info().Int("replayed", len(entries)-len(failed)).Int("failed", len(failed)).Msg("offline queue replayed")
	_ = e.do(e.ctx, func() {
		applied := make(map[int64]bool, len(remaining))
		for _, entry := range remaining {
			if e.applied[entry.Seq] {
				applied[entry.Seq] = true
			}
		}
		e.applied = applied
		e.pending = len(remaining)
		e.publish()
	})
}

// ensureLive opens the live channel when connected, authorized and not
// already open
func (e *Engine) ensureLive(ctx context.Context) {
	if e.live == nil {
		return
	}

	var (
		token string
		open  bool
	)
	if err := e.do(ctx, func() {
		if e.liveConn != nil || e.liveOpening || !e.status.Connected || strings.TrimSpace(e.token) == "" {
			return
		}
		e.liveOpening = true
		open = true
		token = e.token
	}); err != nil || !open {
		return
	}

	liveCtx, cancel := context.WithCancel(e.ctx)
	conn, err := e.live.Subscribe(ctx, token, func(ev livefeed.Event) {
		e.post(liveCtx, func() {
			if liveCtx.Err() != nil {
				return
			}
			e.applyPush(ev)
		})
	})

	installed := false
	_ = e.do(e.ctx, func() {
		e.liveOpening = false
		if err != nil || !e.status.Connected || e.token != token {
			return
		}
		e.liveConn, e.liveCancel = conn, cancel
		installed = true
	})

	if err != nil {
		cancel()
		e.logger.Warn().Err(err).Msg("failed to open live channel")
		return
	}
	if !installed {
		cancel()
		conn.Close()
		return
	}

	// Forget a channel that drops on its own so the next pass can reopen it
	if d, ok := conn.(interface{ Done() <-chan struct{} }); ok {
		go func() {
			select {
			case <-d.Done():
				e.post(liveCtx, func() {
					if liveCtx.Err() != nil || e.liveConn != conn {
						return
					}
					e.logger.Info().Msg("live channel dropped")
					e.liveConn, e.liveCancel = nil, nil
					cancel()
				})
			case <-liveCtx.Done():
			}
		}()
	}
}

// Close stops the engine. Results of operations still in flight are
// discarded.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		close(e.quit)
		e.stopWatch()
		e.wg.Wait()

		if e.liveConn != nil {
			e.liveCancel()
			err = e.liveConn.Close()
			e.liveConn = nil
		}
	})
	return err
}
