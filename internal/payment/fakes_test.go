package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DStukalo/children-server/internal/cache"
	"github.com/DStukalo/children-server/internal/events"
	"github.com/DStukalo/children-server/internal/model"
	"github.com/DStukalo/children-server/internal/repository"
	"github.com/DStukalo/children-server/internal/security"
)

// memPaymentRepo はテスト用のインメモリPaymentRepository。
// 状態遷移はPostgreSQL実装と同じくpendingのレコードにのみ適用する。
type memPaymentRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.Payment
	byOrder map[string]string
	err     error
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{
		byID:    make(map[string]*model.Payment),
		byOrder: make(map[string]string),
	}
}

func (r *memPaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.byOrder[p.OrderID]; ok {
		return repository.ErrDuplicate
	}
	cp := *p
	r.byID[p.ID] = &cp
	r.byOrder[p.OrderID] = p.ID
	return nil
}

func (r *memPaymentRepo) FindByID(ctx context.Context, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *memPaymentRepo) FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	r.mu.Lock()
	id, ok := r.byOrder[orderID]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

func (r *memPaymentRepo) SetStatusByID(ctx context.Context, id string, status model.PaymentStatus) (*model.Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, false, r.err
	}
	p, ok := r.byID[id]
	if !ok {
		return nil, false, nil
	}
	changed := false
	if p.Status.CanTransitionTo(status) {
		p.Status = status
		p.UpdatedAt = p.UpdatedAt.Add(time.Second)
		changed = true
	}
	cp := *p
	return &cp, changed, nil
}

func (r *memPaymentRepo) SetStatusByOrderID(ctx context.Context, orderID string, status model.PaymentStatus) (*model.Payment, bool, error) {
	r.mu.Lock()
	id, ok := r.byOrder[orderID]
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return r.SetStatusByID(ctx, id, status)
}

type memCallbackRepo struct {
	mu      sync.Mutex
	records []*model.CallbackRecord
	err     error
}

func (r *memCallbackRepo) Create(ctx context.Context, rec *model.CallbackRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *memCallbackRepo) last() *model.CallbackRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

type memStatusCache struct {
	mu      sync.Mutex
	entries map[string]cache.StatusEntry
	deletes []string
	gets    int
}

func newMemStatusCache() *memStatusCache {
	return &memStatusCache{entries: make(map[string]cache.StatusEntry)}
}

func (c *memStatusCache) Get(ctx context.Context, id string) (*cache.StatusEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	e, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *memStatusCache) Set(ctx context.Context, id string, e cache.StatusEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = e
	return nil
}

func (c *memStatusCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.deletes = append(c.deletes, id)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
	err    error
}

func (p *recordingPublisher) PublishPaymentEvent(ctx context.Context, ev events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type recordingMetrics struct {
	mu                sync.Mutex
	created           int
	transitions       map[string]int
	callbacks         map[string]int
	signatureFailures int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		transitions: make(map[string]int),
		callbacks:   make(map[string]int),
	}
}

func (m *recordingMetrics) RecordPaymentCreated() {
	m.mu.Lock()
	m.created++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordTransition(status string) {
	m.mu.Lock()
	m.transitions[status]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordCallback(result string) {
	m.mu.Lock()
	m.callbacks[result]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordSignatureFailure() {
	m.mu.Lock()
	m.signatureFailures++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordCallbackLatency(time.Duration) {}
func (m *recordingMetrics) RecordHTTPStatus(int) {}

// fixture は決済サービスとReconcilerを同じインメモリ依存で組み立てる。
type fixture struct {
	repo      *memPaymentRepo
	callbacks *memCallbackRepo
	cache     *memStatusCache
	publisher *recordingPublisher
	metrics   *recordingMetrics
	service   *Service
	reconcile *Reconciler
	cfg       GatewayConfig
}

const testBaseURL = "https://api.example.by"

func testGatewayConfig() GatewayConfig {
	return GatewayConfig{
		StoreID:        "11111111",
		SecretKey:      "secret",
		GatewayURL:     "https://sandbox.webpay.by",
		Sandbox:        true,
		VerifyCallback: false,
	}
}

func newFixture(cfg GatewayConfig) *fixture {
	f := &fixture{
		repo:      newMemPaymentRepo(),
		callbacks: &memCallbackRepo{},
		cache:     newMemStatusCache(),
		publisher: &recordingPublisher{},
		metrics:   newRecordingMetrics(),
		cfg:       cfg,
	}
	hooks := Hooks{Cache: f.cache, Publisher: f.publisher, Metrics: f.metrics}

	n := 0
	var mu sync.Mutex
	seed := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("seed-%04d", n)
	}

	f.service = NewService(f.repo, cfg, seed, security.NewTextSanitizer(), hooks)
	f.reconcile = NewReconciler(f.repo, f.callbacks, cfg, hooks)
	return f
}

var errStore = errors.New("store unavailable")
