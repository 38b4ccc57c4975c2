package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"auction-engine/internal/clock"
	"auction-engine/internal/core"
	"auction-engine/internal/domain"
	"auction-engine/internal/domain/mocks"
	"auction-engine/internal/infrastructure/memory"
	"auction-engine/pkg/logger"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	ctrl       *gomock.Controller
	store      domain.AuctionStore
	clock      *clock.Fake
	notifier   *mocks.MockNotifier
	payments   *mocks.MockSettlementPublisher
	manager    *AuctionManager
	bids       *BidService
	settlement *SettlementCoordinator
	scheduler  *ClosingScheduler
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	store  domain.AuctionStore
	bids   BidServiceConfig
	policy core.Policy
	leader domain.LeaderElection
}

func withStore(s domain.AuctionStore) harnessOption {
	return func(c *harnessConfig) { c.store = s }
}

func withSoftClose(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.bids.SoftClose = d }
}

func withMaxRetries(n int) harnessOption {
	return func(c *harnessConfig) { c.bids.MaxRetries = n }
}

func withLeader(l domain.LeaderElection) harnessOption {
	return func(c *harnessConfig) { c.leader = l }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		store: memory.NewAuctionStore(),
		bids:  BidServiceConfig{MaxRetries: 3},
	}
	for _, o := range opts {
		o(&cfg)
	}

	ctrl := gomock.NewController(t)
	h := &harness{
		ctrl:     ctrl,
		store:    cfg.store,
		clock:    clock.NewFake(t0),
		notifier: mocks.NewMockNotifier(ctrl),
		payments: mocks.NewMockSettlementPublisher(ctrl),
	}
	log := logger.NewNop()
	h.manager = NewAuctionManager(h.store, h.clock, cfg.bids.MaxRetries, log)
	h.bids = NewBidService(h.store, h.notifier, core.NewValidator(cfg.policy), h.clock, cfg.bids, log)
	h.settlement = NewSettlementCoordinator(h.store, h.notifier, h.payments, h.clock, cfg.bids.MaxRetries, log)
	h.scheduler = NewClosingScheduler(h.store, h.manager, h.settlement, cfg.leader, h.clock,
		SchedulerConfig{Concurrency: 4, InstanceID: "node-1"}, log)
	return h
}

// peer builds a second engine instance over the given store, sharing the
// harness clock and collaborators.
func (h *harness) peer(store domain.AuctionStore) *harness {
	p := *h
	log := logger.NewNop()
	p.store = store
	p.manager = NewAuctionManager(store, h.clock, 3, log)
	p.bids = NewBidService(store, h.notifier, core.NewValidator(core.Policy{}), h.clock, BidServiceConfig{MaxRetries: 3}, log)
	p.settlement = NewSettlementCoordinator(store, h.notifier, h.payments, h.clock, 3, log)
	p.scheduler = NewClosingScheduler(store, p.manager, p.settlement, nil, h.clock,
		SchedulerConfig{Concurrency: 4, InstanceID: "peer"}, log)
	return &p
}

// allowBidNotifications accepts any number of bid-time notifications.
func (h *harness) allowBidNotifications() {
	h.notifier.EXPECT().
		Notify(gomock.Any(), intentOf(domain.NotifyBidAccepted, domain.NotifyOutbid, domain.NotifyAuctionExtended)).
		Return(nil).AnyTimes()
}

func floatPtr(v float64) *float64 { return &v }

// activeAuction creates an auction running from t0 for an hour and moves
// the clock one minute in.
func (h *harness) activeAuction(t *testing.T, starting float64, increment, reserve *float64) *domain.Auction {
	t.Helper()
	ctx := context.Background()
	a, err := h.manager.CreateAuction(ctx, CreateAuctionRequest{
		SellerID:      "seller",
		StartingPrice: starting,
		ReservePrice:  reserve,
		BidIncrement:  increment,
		StartTime:     t0,
		EndTime:       t0.Add(time.Hour),
	})
	require.NoError(t, err)
	a, err = h.manager.ActivateAuction(ctx, a.ID)
	require.NoError(t, err)
	h.clock.Set(t0.Add(time.Minute))
	return a
}

func (h *harness) bid(t *testing.T, auctionID, bidder string, amount float64) (*domain.Bid, error) {
	t.Helper()
	return h.bids.SubmitBid(context.Background(), SubmitBidRequest{
		AuctionID: auctionID,
		BidderID:  bidder,
		Amount:    amount,
	})
}

func (h *harness) load(t *testing.T, auctionID string) *domain.AuctionSnapshot {
	t.Helper()
	snap, err := h.store.LoadAuction(context.Background(), auctionID)
	require.NoError(t, err)
	require.NoError(t, core.CheckInvariants(snap))
	return snap
}

func bidByID(snap *domain.AuctionSnapshot, id string) *domain.Bid {
	for _, b := range snap.Bids {
		if b.ID == id {
			return b
		}
	}
	return nil
}

type intentMatcher struct {
	types []domain.NotificationType
	user  string
}

// intentOf matches notification intents of any of the given types.
func intentOf(types ...domain.NotificationType) intentMatcher {
	return intentMatcher{types: types}
}

func (m intentMatcher) forUser(user string) intentMatcher {
	m.user = user
	return m
}

func (m intentMatcher) Matches(x interface{}) bool {
	in, ok := x.(domain.NotificationIntent)
	if !ok {
		return false
	}
	if m.user != "" && in.UserID != m.user {
		return false
	}
	for _, typ := range m.types {
		if in.Type == typ {
			return true
		}
	}
	return false
}

func (m intentMatcher) String() string {
	names := make([]string, len(m.types))
	for i, typ := range m.types {
		names[i] = string(typ)
	}
	return fmt.Sprintf("notification of type %s for %q", strings.Join(names, "|"), m.user)
}

// racingStore runs each queued hook once, just before the matching
// AppendBid call reaches the underlying store.
type racingStore struct {
	domain.AuctionStore

	mu          sync.Mutex
	hooks       []func()
	appendCalls int
}

func (s *racingStore) AppendBid(ctx context.Context, expectedVersion int64, auction *domain.Auction, bid, outbid *domain.Bid) error {
	s.mu.Lock()
	s.appendCalls++
	var hook func()
	if len(s.hooks) > 0 {
		hook, s.hooks = s.hooks[0], s.hooks[1:]
	}
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return s.AuctionStore.AppendBid(ctx, expectedVersion, auction, bid, outbid)
}

// contendedStore loses every compare-and-swap.
type contendedStore struct {
	domain.AuctionStore

	mu     sync.Mutex
	writes int
}

func (s *contendedStore) AppendBid(ctx context.Context, expectedVersion int64, auction *domain.Auction, bid, outbid *domain.Bid) error {
	return s.conflict()
}

func (s *contendedStore) UpdateAuction(ctx context.Context, expectedVersion int64, auction *domain.Auction, bids ...*domain.Bid) error {
	return s.conflict()
}

func (s *contendedStore) conflict() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return domain.ErrVersionConflict
}

type fakeLeader struct {
	mu       sync.Mutex
	holder   string
	err      error
	released bool
}

func (f *fakeLeader) BecomeLeader(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.holder == "" {
		f.holder = id
	}
	return f.holder == id, nil
}

func (f *fakeLeader) IsLeader(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holder == id, f.err
}

func (f *fakeLeader) RefreshLeadership(ctx context.Context, id string) (bool, error) {
	return f.IsLeader(ctx, id)
}

func (f *fakeLeader) ReleaseLeadership(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holder == id {
		f.holder = ""
		f.released = true
	}
	return nil
}
