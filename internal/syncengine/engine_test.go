package syncengine

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erauner12/productsync/internal/auth"
	"github.com/erauner12/productsync/internal/catalog"
	"github.com/erauner12/productsync/internal/client"
	"github.com/erauner12/productsync/internal/connectivity"
	"github.com/erauner12/productsync/internal/httpapi"
	"github.com/erauner12/productsync/internal/kvstore"
	"github.com/erauner12/productsync/internal/livefeed"
	"github.com/erauner12/productsync/internal/offlinequeue"
	"github.com/erauner12/productsync/internal/service/productservice"
	"github.com/erauner12/productsync/internal/store"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

const owner = "alice"

// fakeRemote serves the engine from a memory store. Setting down makes every
// call fail like an unreachable server; gate, when set, blocks List until it
// is closed or the call is cancelled.
type fakeRemote struct {
	st store.Store

	mu      sync.Mutex
	down    bool
	gate    chan struct{}
	entered chan struct{}
	calls   int
	token   string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{st: store.NewMemory()}
}

func (f *fakeRemote) begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return catalog.Errorf(catalog.KindNetwork, "connection refused")
	}
	return nil
}

func (f *fakeRemote) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeRemote) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeRemote) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeRemote) List(ctx context.Context) ([]catalog.Product, error) {
	if err := f.begin(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.st.List(ctx, owner)
}

func (f *fakeRemote) Create(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if err := f.begin(); err != nil {
		return catalog.Product{}, err
	}
	return f.st.Create(ctx, owner, p)
}

func (f *fakeRemote) Update(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	if err := f.begin(); err != nil {
		return catalog.Product{}, err
	}
	return f.st.Update(ctx, owner, p, p.Version)
}

type harness struct {
	remote  *fakeRemote
	kv      *kvstore.Memory
	queue   *offlinequeue.Queue
	monitor *connectivity.Manual
	engine  *Engine
}

func newHarness(t *testing.T, initial connectivity.Status) *harness {
	t.Helper()
	h := &harness{
		remote:  newFakeRemote(),
		kv:      kvstore.NewMemory(),
		monitor: connectivity.NewManual(initial),
	}
	h.queue = offlinequeue.New(h.kv)
	h.engine = h.start()
	return h
}

// start opens another engine over the same remote and local storage
func (h *harness) start() *Engine {
	return New(Options{
		Remote:  h.remote,
		KV:      h.kv,
		Queue:   h.queue,
		Monitor: h.monitor,
		Logger:  zerolog.Nop(),
	})
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	if err := h.engine.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func (h *harness) seed(t *testing.T, names ...string) []catalog.Product {
	t.Helper()
	var out []catalog.Product
	for _, n := range names {
		p, err := h.remote.st.Create(context.Background(), owner, catalog.Product{Name: n, Price: 1, Quantity: 1})
		if err != nil {
			t.Fatalf("seed %s failed: %v", n, err)
		}
		out = append(out, p)
	}
	return out
}

func names(products []catalog.Product) string {
	parts := make([]string, len(products))
	for i, p := range products {
		parts[i] = p.Name
	}
	return strings.Join(parts, ",")
}

func TestLoadReplacesCollectionAndPersists(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)
	h.seed(t, "a", "b")

	if err := h.engine.Load(context.Background(), "token"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	snap := h.engine.Snapshot()
	if got := names(snap.Products); got != "a,b" {
		t.Errorf("products = %s, want a,b", got)
	}
	if snap.Fetching || snap.FetchErr != nil {
		t.Errorf("unexpected fetch state: %+v", snap)
	}

	restored, err := restoreSnapshot(context.Background(), h.kv)
	if err != nil {
		t.Fatalf("restoreSnapshot failed: %v", err)
	}
	if len(restored) != 2 || restored[0].ID != "1" || restored[0].Version != 1 || restored[1].Name != "b" {
		t.Errorf("durable snapshot = %+v", restored)
	}
	if restored[0].OwnerID != "" {
		t.Error("durable snapshot should hold only the display fields")
	}
}

func TestLoadHandsTokenToRemote(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)
	ctx := context.Background()

	if err := h.engine.Load(ctx, "first"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := h.remote.currentToken(); got != "first" {
		t.Errorf("remote token = %q, want first", got)
	}

	// An empty token is a fetch error and leaves the last identity in place
	_ = h.engine.Load(ctx, "")
	if got := h.remote.currentToken(); got != "first" {
		t.Errorf("remote token = %q after empty load, want first", got)
	}

	if err := h.engine.Load(ctx, "second"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := h.remote.currentToken(); got != "second" {
		t.Errorf("remote token = %q, want second", got)
	}
}

func TestLoadWithoutTokenSkipsFetch(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)

	err := h.engine.Load(context.Background(), " ")
	if !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if h.remote.callCount() != 0 {
		t.Error("no request should be made without a token")
	}
}

func TestLoadFailureFallsBackToLocalData(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	h.seed(t, "a", "b")
	if err := h.engine.Load(context.Background(), "token"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	h.close(t)

	// A write queued by an earlier session
	if _, err := h.queue.Enqueue(context.Background(), catalog.Product{Name: "queued", Price: 2}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	h.remote.setDown(true)
	h.engine = h.start()
	defer h.close(t)

	err := h.engine.Load(context.Background(), "token")
	if catalog.KindOf(err) != catalog.KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}

	snap := h.engine.Snapshot()
	if got := names(snap.Products); got != "queued,a,b" {
		t.Errorf("products = %s, want queued,a,b", got)
	}
	if catalog.KindOf(snap.FetchErr) != catalog.KindNetwork {
		t.Errorf("FetchErr = %v", snap.FetchErr)
	}
	if snap.Pending != 1 {
		t.Errorf("Pending = %d, want 1", snap.Pending)
	}

	// A second failed load neither duplicates queued writes nor drops data
	if err := h.engine.Load(context.Background(), "token"); err == nil {
		t.Fatal("expected the load to fail again")
	}
	if got := names(h.engine.Snapshot().Products); got != "queued,a,b" {
		t.Errorf("products after retry = %s", got)
	}
}

func TestLoadFailureKeepsLoadedCollection(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)
	h.seed(t, "a")

	if err := h.engine.Load(context.Background(), "token"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := h.engine.OnPush(livefeed.Event{Type: livefeed.FrameCreated, Product: catalog.Product{ID: "9", Name: "pushed"}}); err != nil {
		t.Fatalf("OnPush failed: %v", err)
	}

	h.remote.setDown(true)
	if err := h.engine.Load(context.Background(), "token"); err == nil {
		t.Fatal("expected load failure")
	}
	if got := names(h.engine.Snapshot().Products); got != "pushed,a" {
		t.Errorf("products = %s, want the previously loaded data", got)
	}
}

func TestSaveOnline(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)
	ctx := context.Background()
	h.seed(t, "a")
	if err := h.engine.Load(ctx, "token"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := h.engine.Save(ctx, catalog.Product{Name: "new", Price: 3}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	snap := h.engine.Snapshot()
	if got := names(snap.Products); got != "new,a" {
		t.Fatalf("products = %s, want new,a", got)
	}
	if snap.Products[0].ID != "2" || snap.Products[0].Version != 1 {
		t.Errorf("saved record = %+v", snap.Products[0])
	}

	edit := snap.Products[1]
	edit.Name = "a2"
	if err := h.engine.Save(ctx, edit); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	snap = h.engine.Snapshot()
	if got := names(snap.Products); got != "new,a2" {
		t.Errorf("products = %s, want new,a2", got)
	}
	if snap.Products[1].Version != 2 || snap.Saving {
		t.Errorf("after update: %+v", snap)
	}
}

func TestSaveOnlineFailureLeavesCollection(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)
	ctx := context.Background()
	h.seed(t, "a")
	if err := h.engine.Load(ctx, "token"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	h.remote.setDown(true)
	err := h.engine.Save(ctx, catalog.Product{Name: "lost"})
	if catalog.KindOf(err) != catalog.KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}

	snap := h.engine.Snapshot()
	if got := names(snap.Products); got != "a" {
		t.Errorf("products = %s, want a", got)
	}
	if catalog.KindOf(snap.SaveErr) != catalog.KindNetwork || snap.Saving {
		t.Errorf("save state = %+v", snap)
	}
	if entries, _ := h.queue.DrainAll(ctx); len(entries) != 0 {
		t.Error("online failures must not fall back to the offline queue")
	}

	// The next connected save clears the retained error
	h.remote.setDown(false)
	if err := h.engine.Save(ctx, catalog.Product{Name: "ok"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if snap := h.engine.Snapshot(); snap.SaveErr != nil {
		t.Errorf("SaveErr = %v, want nil", snap.SaveErr)
	}
}

func TestSaveRejectsInvalidProduct(t *testing.T) {
	h := newHarness(t, connectivity.Offline)
	defer h.close(t)

	err := h.engine.Save(context.Background(), catalog.Product{Name: "", Price: 1})
	if catalog.KindOf(err) != catalog.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if entries, _ := h.queue.DrainAll(context.Background()); len(entries) != 0 {
		t.Error("invalid writes must not be queued")
	}
}

func TestSaveOfflineQueuesAndMerges(t *testing.T) {
	h := newHarness(t, connectivity.Offline)
	defer h.close(t)
	ctx := context.Background()

	if err := h.engine.Save(ctx, catalog.Product{Name: "x", Price: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := h.engine.Save(ctx, catalog.Product{Name: "y", Price: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	snap := h.engine.Snapshot()
	if got := names(snap.Products); got != "y,x" {
		t.Errorf("products = %s, want y,x", got)
	}
	if snap.Pending != 2 || snap.Connected {
		t.Errorf("snapshot = %+v", snap)
	}
	if h.remote.callCount() != 0 {
		t.Error("offline saves must not reach the server")
	}

	entries, _ := h.queue.DrainAll(ctx)
	if len(entries) != 2 || entries[0].Product.Name != "x" {
		t.Errorf("queue = %+v", entries)
	}
}

func TestSaveOfflineQueueFailure(t *testing.T) {
	kv := &brokenKV{Memory: kvstore.NewMemory()}
	e := New(Options{
		Remote:  newFakeRemote(),
		KV:      kv,
		Monitor: connectivity.NewManual(connectivity.Offline),
		Logger:  zerolog.Nop(),
	})
	defer e.Close()

	err := e.Save(context.Background(), catalog.Product{Name: "x"})
	if catalog.KindOf(err) != catalog.KindUnexpected {
		t.Fatalf("expected unexpected error, got %v", err)
	}
	if len(e.Snapshot().Products) != 0 {
		t.Error("a write that was not queued must not be merged")
	}
}

type brokenKV struct {
	*kvstore.Memory
}

func (b *brokenKV) Set(context.Context, string, []byte) error {
	return errors.New("storage unavailable")
}

func TestReconnectReplaysQueue(t *testing.T) {
	h := newHarness(t, connectivity.Offline)
	defer h.close(t)
	ctx := context.Background()

	if err := h.engine.Load(ctx, "token"); catalog.KindOf(err) != catalog.KindNetwork {
		t.Fatalf("offline load should report a network error, got %v", err)
	}
	for _, n := range []string{"x", "y"} {
		if err := h.engine.Save(ctx, catalog.Product{Name: n, Price: 1}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	if err := h.engine.OnConnectivityChanged(ctx, connectivity.Online); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}

	snap := h.engine.Snapshot()
	if got := names(snap.Products); got != "x,y" {
		t.Errorf("products = %s, want the server order x,y", got)
	}
	for _, p := range snap.Products {
		if !p.Assigned() {
			t.Errorf("optimistic copy left behind: %+v", p)
		}
	}
	if snap.Pending != 0 || !snap.Connected {
		t.Errorf("snapshot = %+v", snap)
	}
	if _, ok, _ := h.kv.Get(ctx, offlinequeue.Key); ok {
		t.Error("queue key should be removed once every entry is delivered")
	}

	server, _ := h.remote.st.List(ctx, owner)
	if names(server) != "x,y" {
		t.Errorf("server has %s, want x,y in enqueue order", names(server))
	}
}

func TestReconnectConflictStaysQueued(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)
	ctx := context.Background()
	seeded := h.seed(t, "a")
	if err := h.engine.Load(ctx, "token"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := h.engine.OnConnectivityChanged(ctx, connectivity.Offline); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	edit := seeded[0]
	edit.Name = "offline edit"
	if err := h.engine.Save(ctx, edit); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := h.engine.Save(ctx, catalog.Product{Name: "fresh"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Someone else moves the record to version 2 meanwhile
	other := seeded[0]
	other.Name = "server edit"
	if _, err := h.remote.st.Update(ctx, owner, other, 1); err != nil {
		t.Fatalf("concurrent update failed: %v", err)
	}

	if err := h.engine.OnConnectivityChanged(ctx, connectivity.Online); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}

	entries, err := h.queue.DrainAll(ctx)
	if err != nil {
		t.Fatalf("DrainAll failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Product.Name != "offline edit" {
		t.Fatalf("queue = %+v, want only the conflicting edit", entries)
	}

	snap := h.engine.Snapshot()
	if snap.Pending != 1 {
		t.Errorf("Pending = %d, want 1", snap.Pending)
	}
	if got := names(snap.Products); got != "server edit,fresh" {
		t.Errorf("products = %s, want server edit,fresh", got)
	}

	stored, _ := h.remote.st.Get(ctx, seeded[0].ID)
	if stored.Name != "server edit" || stored.Version != 2 {
		t.Errorf("server record = %+v", stored)
	}

	// The entry is retried on the next transition and fails the same way
	if err := h.engine.OnConnectivityChanged(ctx, connectivity.Offline); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.OnConnectivityChanged(ctx, connectivity.Online); err != nil {
		t.Fatal(err)
	}
	if entries, _ := h.queue.DrainAll(ctx); len(entries) != 1 {
		t.Errorf("queue after retry = %+v", entries)
	}
}

func TestReconnectWhileServerDownKeepsEverything(t *testing.T) {
	h := newHarness(t, connectivity.Offline)
	defer h.close(t)
	ctx := context.Background()
	_ = h.engine.Load(ctx, "token")

	for _, n := range []string{"x", "y"} {
		if err := h.engine.Save(ctx, catalog.Product{Name: n}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	h.remote.setDown(true)
	if err := h.engine.OnConnectivityChanged(ctx, connectivity.Online); catalog.KindOf(err) != catalog.KindNetwork {
		t.Fatalf("expected the reload to fail with a network error, got %v", err)
	}

	entries, _ := h.queue.DrainAll(ctx)
	if len(entries) != 2 || entries[0].Product.Name != "x" || entries[1].Product.Name != "y" {
		t.Errorf("queue = %+v, want both entries in order", entries)
	}
	if got := names(h.engine.Snapshot().Products); got != "y,x" {
		t.Errorf("products = %s, want y,x", got)
	}
}

func TestMonitorDrivesReconcile(t *testing.T) {
	h := newHarness(t, connectivity.Offline)
	defer h.close(t)
	ctx := context.Background()
	_ = h.engine.Load(ctx, "token")

	if err := h.engine.Save(ctx, catalog.Product{Name: "x"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	h.monitor.Set(connectivity.Status{Connected: true, Type: connectivity.TypeWiFi})

	waitFor(t, h.engine, func(s Snapshot) bool {
		return s.Connected && s.Pending == 0 && len(s.Products) == 1 && s.Products[0].Assigned()
	})
	if got := h.engine.Snapshot().ConnectionType; got != connectivity.TypeWiFi {
		t.Errorf("ConnectionType = %q", got)
	}
}

// racyMonitor flips to Online right after its first Current read, the window
// between sampling the status and subscribing to changes
type racyMonitor struct {
	*connectivity.Manual
	once sync.Once
}

func (m *racyMonitor) Current() connectivity.Status {
	s := m.Manual.Current()
	m.once.Do(func() { m.Manual.Set(connectivity.Online) })
	return s
}

func TestNewSeesChangeDuringStartup(t *testing.T) {
	monitor := &racyMonitor{Manual: connectivity.NewManual(connectivity.Offline)}
	e := New(Options{Remote: newFakeRemote(), Monitor: monitor, Logger: zerolog.Nop()})
	defer e.Close()

	waitFor(t, e, func(s Snapshot) bool { return s.Connected })
}

func waitFor(t *testing.T, e *Engine, cond func(Snapshot) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond(e.Snapshot()) {
			return
		}
		select {
		case <-e.Changes():
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("condition not reached, snapshot %+v", e.Snapshot())
		}
	}
}

func TestOnPush(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)
	ctx := context.Background()
	h.seed(t, "a", "b")
	if err := h.engine.Load(ctx, "token"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		ev   livefeed.Event
		want string
	}{
		{"created goes to head", livefeed.Event{Type: livefeed.FrameCreated, Product: catalog.Product{ID: "7", Name: "c"}}, "c,a,b"},
		{"updated replaces in place", livefeed.Event{Type: livefeed.FrameUpdated, Product: catalog.Product{ID: "2", Name: "b2", Version: 2}}, "c,a,b2"},
		{"deleted is ignored", livefeed.Event{Type: livefeed.FrameDeleted, Product: catalog.Product{ID: "1", Name: "a"}}, "c,a,b2"},
		{"record without id is ignored", livefeed.Event{Type: livefeed.FrameCreated, Product: catalog.Product{Name: "ghost"}}, "c,a,b2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.engine.OnPush(tt.ev); err != nil {
				t.Fatalf("OnPush failed: %v", err)
			}
			if got := names(h.engine.Snapshot().Products); got != tt.want {
				t.Errorf("products = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStaleLoadDiscardedAfterClose(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	h.seed(t, "a")

	h.remote.mu.Lock()
	h.remote.gate = make(chan struct{})
	h.remote.entered = make(chan struct{})
	entered := h.remote.entered
	h.remote.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		result <- h.engine.Load(context.Background(), "token")
	}()

	<-entered
	h.close(t)
	close(h.remote.gate)

	if err := <-result; err == nil {
		t.Fatal("a load interrupted by Close should not report success")
	}
	if snap := h.engine.Snapshot(); len(snap.Products) != 0 {
		t.Errorf("stale result applied after Close: %+v", snap.Products)
	}
	if err := h.engine.Save(context.Background(), catalog.Product{Name: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Save after Close = %v, want ErrClosed", err)
	}
}

func TestLoadCancelledByCaller(t *testing.T) {
	h := newHarness(t, connectivity.Online)
	defer h.close(t)
	h.seed(t, "a")

	h.remote.mu.Lock()
	h.remote.gate = make(chan struct{})
	h.remote.entered = make(chan struct{})
	entered := h.remote.entered
	h.remote.mu.Unlock()
	defer close(h.remote.gate)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- h.engine.Load(ctx, "token")
	}()

	<-entered
	cancel()

	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	snap := h.engine.Snapshot()
	if len(snap.Products) != 0 || snap.Fetching {
		t.Errorf("cancelled load left state behind: %+v", snap)
	}
}

// newLiveServer runs the real API with the live feed in dev mode
func newLiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	jwtCfg := auth.JWTCfg{HS256Secret: "test-secret", DevMode: true}
	hub := livefeed.NewHub()
	srv := &httpapi.Server{
		Products: productservice.NewService(store.NewMemory(), hub),
		Live:     &livefeed.Handler{Hub: hub, Authenticate: jwtCfg.Authenticate},
	}
	ts := httptest.NewServer(srv.Routes(jwtCfg))
	t.Cleanup(func() {
		ts.Close()
		hub.Close()
	})
	return ts
}

func TestLiveUpdatesFromServer(t *testing.T) {
	ts := newLiveServer(t)
	ctx := context.Background()

	creds := client.Credentials{DevSub: owner}
	hc := client.NewHTTPClient(ts.URL, creds, zerolog.Nop())
	monitor := connectivity.NewManual(connectivity.Online)
	e := New(Options{
		Remote: client.NewProductClient(hc),
		Live: &client.LiveDialer{
			URL:       "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
			Creds:     creds,
			Logger:    zerolog.Nop(),
			OnWelcome: hc.SetLiveClient,
		},
		Monitor: monitor,
		Logger:  zerolog.Nop(),
	})
	defer e.Close()

	if err := e.Load(ctx, auth.DevTokenPrefix+owner); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Another device of the same owner writes
	other := client.NewProductClient(client.NewHTTPClient(ts.URL, creds, zerolog.Nop()))
	created, err := other.Create(ctx, catalog.Product{Name: "Widget", Price: 10, Quantity: 5})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	waitFor(t, e, func(s Snapshot) bool {
		return len(s.Products) == 1 && s.Products[0].ID == created.ID
	})

	// Own writes come back through the HTTP response only
	if err := e.Save(ctx, catalog.Product{Name: "Gadget", Price: 5}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	created.Price = 11
	if _, err := other.Update(ctx, created); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	waitFor(t, e, func(s Snapshot) bool {
		return len(s.Products) == 2 && s.Products[1].Price == 11
	})
	if got := names(e.Snapshot().Products); got != "Gadget,Widget" {
		t.Errorf("products = %s, want Gadget,Widget", got)
	}

	// Going offline tears the channel down and later pushes are not seen
	if err := e.OnConnectivityChanged(ctx, connectivity.Offline); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if _, err := other.Create(ctx, catalog.Product{Name: "Unseen"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := len(e.Snapshot().Products); got != 2 {
		t.Errorf("got %d products while offline, want 2", got)
	}

	// Reconnecting reopens the channel and reloads
	if err := e.OnConnectivityChanged(ctx, connectivity.Online); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if got := len(e.Snapshot().Products); got != 3 {
		t.Errorf("got %d products after reconnect, want 3", got)
	}
}

func TestLoadActsAsTokenOwner(t *testing.T) {
	ts := newLiveServer(t)
	ctx := context.Background()

	bob := client.NewProductClient(client.NewHTTPClient(ts.URL, client.Credentials{DevSub: "bob"}, zerolog.Nop()))
	alice := client.NewProductClient(client.NewHTTPClient(ts.URL, client.Credentials{DevSub: owner}, zerolog.Nop()))
	if _, err := bob.Create(ctx, catalog.Product{Name: "BobsWidget", Price: 3}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := alice.Create(ctx, catalog.Product{Name: "AlicesLamp", Price: 4}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// The engine's client starts out as alice; the token decides who it acts for
	creds := client.Credentials{DevSub: owner}
	hc := client.NewHTTPClient(ts.URL, creds, zerolog.Nop())
	e := New(Options{
		Remote: client.NewProductClient(hc),
		Live: &client.LiveDialer{
			URL:       "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
			Creds:     creds,
			Logger:    zerolog.Nop(),
			OnWelcome: hc.SetLiveClient,
		},
		Logger: zerolog.Nop(),
	})
	defer e.Close()

	if err := e.Load(ctx, auth.DevTokenPrefix+"bob"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := names(e.Snapshot().Products); got != "BobsWidget" {
		t.Fatalf("products = %q, want BobsWidget", got)
	}

	if err := e.Save(ctx, catalog.Product{Name: "BobsGadget", Price: 1}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	bobs, err := bob.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if got := names(bobs); got != "BobsWidget,BobsGadget" {
		t.Errorf("bob's products on the server = %q", got)
	}

	// The live channel belongs to bob as well
	if _, err := bob.Create(ctx, catalog.Product{Name: "BobsPush"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, e, func(s Snapshot) bool { return len(s.Products) == 3 })

	// Switching tokens switches the collection and the channel
	if err := e.Load(ctx, auth.DevTokenPrefix+owner); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := names(e.Snapshot().Products); got != "AlicesLamp" {
		t.Fatalf("products = %q, want AlicesLamp", got)
	}
	if _, err := bob.Create(ctx, catalog.Product{Name: "BobsLate"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := alice.Create(ctx, catalog.Product{Name: "AlicesPush"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	waitFor(t, e, func(s Snapshot) bool { return len(s.Products) == 2 })
	if got := names(e.Snapshot().Products); got != "AlicesPush,AlicesLamp" {
		t.Errorf("products = %q, want AlicesPush,AlicesLamp", got)
	}
}
