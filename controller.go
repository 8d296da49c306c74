package waveportal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// storeTimeout bounds store writes made from callbacks that carry no context
const storeTimeout = 5 * time.Second

// AppController composes the gateway, the contract client, the feed
// reconciler and the tx lifecycle into the state a presentation layer reads:
// the feed, the account and the lifecycle snapshot.
//
// A session starts when an account is found or connected and ends when
// another account takes over or the controller is closed. Each session owns
// exactly one NewWave subscription.
type AppController struct {
	gateway   *WalletGateway
	client    *ContractClient
	lifecycle *TxLifecycle

	feedStore       FeedStore
	submissionStore SubmissionStore
	waveHook        func(WaveEvent)
	lifecycleOpts   []LifecycleOption

	mu             sync.Mutex
	reconciler     *WaveFeedReconciler
	sub            *Subscription
	session        string
	sessionAccount common.Address
}

// NewAppController creates a controller without a session. Call
// CheckConnection or Connect to start one.
func NewAppController(gateway *WalletGateway, client *ContractClient, opts ...ControllerOption) (*AppController, error) {
	if client == nil {
		return nil, errors.New("contract client cannot be nil")
	}
	if gateway == nil {
		gateway = NewWalletGateway(nil)
	}
	c := &AppController{
		gateway:    gateway,
		client:     client,
		reconciler: NewWaveFeedReconciler(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lifecycle = NewTxLifecycle(append(c.lifecycleOpts, WithTransitionHook(c.persistTransition))...)
	return c, nil
}

// Client returns the contract client the controller drives
func (c *AppController) Client() *ContractClient {
	return c.client
}

// Session returns the id of the current session, empty when none is active
func (c *AppController) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// CheckConnection looks for an already authorized account without
// prompting and starts a session for it. No account is not an error.
func (c *AppController) CheckConnection(ctx context.Context) (common.Address, bool, error) {
	acc, ok := c.gateway.AuthorizedAccount(ctx)
	if !ok {
		return common.Address{}, false, nil
	}
	return acc, true, c.startSession(ctx, acc)
}

// Connect prompts the user for an account and starts a session for it.
// Possible errors: ErrNoProvider, ErrUserRejected, plus those of the
// snapshot read and the subscription.
func (c *AppController) Connect(ctx context.Context) (common.Address, error) {
	acc, err := c.gateway.RequestConnection(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return acc, c.startSession(ctx, acc)
}

func (c *AppController) startSession(ctx context.Context, acc common.Address) error {
	session := uuid.NewString()

	c.mu.Lock()
	prev := c.sub
	c.sub = nil
	c.session = session
	c.sessionAccount = acc
	c.mu.Unlock()

	// the previous subscription's handler takes c.mu, so it is cancelled unlocked
	if prev != nil {
		prev.Cancel()
	}

	fields := logger.Fields{
		"session": session,
		"address": acc.Hex(),
	}
	logger.WithFields(fields).Info("Starting session")

	c.loadCachedFeed(ctx, session)

	if err := c.Refresh(ctx); err != nil {
		fields["error"] = err
		logger.WithFields(fields).Error("Couldn't read all waves")
		return err
	}

	sub, err := c.client.SubscribeNewWave(ctx, func(ev WaveEvent) {
		c.onWave(session, ev)
	})
	if err != nil {
		fields["error"] = err
		logger.WithFields(fields).Error("Couldn't subscribe to new waves")
		return err
	}

	c.mu.Lock()
	if c.session != session {
		// superseded while subscribing
		c.mu.Unlock()
		sub.Cancel()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// loadCachedFeed seeds the feed from the store while it is still empty, so
// something is shown before the snapshot read returns
func (c *AppController) loadCachedFeed(ctx context.Context, session string) {
	if c.feedStore == nil {
		return
	}
	cached, err := c.feedStore.Load(ctx, c.client.Address())
	if err != nil {
		logger.WithFields(logger.Fields{
			"session": session,
			"error":   err,
		}).Error("Couldn't load cached feed")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconciler.Len() == 0 && len(cached) > 0 {
		c.reconciler.Seed(cached)
		logger.WithFields(logger.Fields{
			"session": session,
			"count":   len(cached),
		}).Debug("Seeded feed from cache")
	}
}

// Refresh reads every wave from the contract and replaces the feed with them.
func (c *AppController) Refresh(ctx context.Context) error {
	waves, err := c.client.GetAllWaves(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.reconciler.Seed(waves)
	session := c.session
	count := c.reconciler.Len()
	c.mu.Unlock()

	logger.WithFields(logger.Fields{
		"session": session,
		"count":   count,
	}).Info("Seeded feed")

	if c.feedStore != nil {
		if err := c.feedStore.Replace(ctx, c.client.Address(), waves); err != nil {
			logger.WithFields(logger.Fields{
				"session": session,
				"error":   err,
			}).Error("Couldn't cache feed")
		}
	}
	return nil
}

func (c *AppController) onWave(session string, ev WaveEvent) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	accepted := c.reconciler.Offer(ev)
	own := ev.Address == c.sessionAccount
	c.mu.Unlock()

	fields := logger.Fields{
		"session":   session,
		"address":   ev.Address.Hex(),
		"timestamp": ev.Timestamp,
	}
	if !accepted {
		logger.WithFields(fields).Debug("Suppressed duplicate wave")
		return
	}
	fields["rewarded"] = ev.Rewarded()
	logger.WithFields(fields).Info("New wave")

	if c.feedStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if _, err := c.feedStore.Append(ctx, c.client.Address(), ev); err != nil {
			fields["error"] = err
			logger.WithFields(fields).Error("Couldn't cache wave")
		}
		cancel()
	}

	if own && c.lifecycle.ResetIfEmitted(ev) {
		logger.WithFields(fields).Debug("Own wave showed up in the feed. Cleared the confirmed submission")
	}

	if c.waveHook != nil {
		c.waveHook(ev)
	}
}

// Feed returns the feed most recent first.
func (c *AppController) Feed() []WaveEvent {
	c.mu.Lock()
	feed := c.reconciler.Snapshot()
	c.mu.Unlock()

	for i, j := 0, len(feed)-1; i < j; i, j = i+1, j-1 {
		feed[i], feed[j] = feed[j], feed[i]
	}
	return feed
}

// Account returns the active account, if any
func (c *AppController) Account() (common.Address, bool) {
	return c.gateway.Account()
}

// TxState returns a snapshot of the wave submission lifecycle
func (c *AppController) TxState() PendingWave {
	return c.lifecycle.Snapshot()
}

// SubmitWave sends message as a wave and waits until it is mined. A previous
// terminal result is cleared first. A failed submission is reported through
// the returned snapshot and leaves the lifecycle Idle, ready for a retry; a
// confirmed one stays Confirmed until the wave shows up in the feed or the
// next submission starts.
// The only returned error is ErrLifecycleBusy.
func (c *AppController) SubmitWave(ctx context.Context, message string) (PendingWave, error) {
	if c.lifecycle.State().Terminal() {
		_ = c.lifecycle.Reset()
	}
	result, err := c.lifecycle.Execute(ctx, c.client, message)
	if err != nil {
		return result, err
	}
	if result.State == TxFailed {
		logger.WithFields(logger.Fields{
			"session": c.Session(),
			"kind":    string(result.Kind),
			"error":   result.Err,
		}).Error("Wave failed")
		_ = c.lifecycle.Reset()
	}
	return result, nil
}

// Subscription returns the NewWave subscription of the current session
func (c *AppController) Subscription() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

// Close ends the session and cancels its subscription. The controller can
// start a new session afterwards.
func (c *AppController) Close() {
	c.mu.Lock()
	sub := c.sub
	session := c.session
	c.sub = nil
	c.session = ""
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if session != "" {
		logger.WithFields(logger.Fields{
			"session": session,
		}).Info("Session closed")
	}
}
