package waveportal

import (
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ClientOption is a function that configures a ContractClient
type ClientOption func(*ContractClient)

// WithGasLimit sets the fixed gas ceiling of a wave tx
func WithGasLimit(gasLimit uint64) ClientOption {
	return func(c *ContractClient) {
		c.gasLimit = gasLimit
	}
}

// WithTxCheckInterval sets how often confirmation is polled
func WithTxCheckInterval(interval time.Duration) ClientOption {
	return func(c *ContractClient) {
		c.txCheckInterval = interval
	}
}

// WithTxMonitorFactory sets a custom tx monitor factory for testing or alternative implementations
func WithTxMonitorFactory(factory TxMonitorFactory) ClientOption {
	return func(c *ContractClient) {
		c.txMonitorFactory = factory
	}
}

// WithErrorABIs registers extra ABIs whose custom errors should be decoded
// when a wave simulation reverts
func WithErrorABIs(abis ...abi.ABI) ClientOption {
	return func(c *ContractClient) {
		c.errorABIs = append(c.errorABIs, abis...)
	}
}

// WithSubscriptionBuffer sets how many pushed logs may queue before the node
// side of a subscription blocks
func WithSubscriptionBuffer(size int) ClientOption {
	return func(c *ContractClient) {
		c.subscriptionBuffer = size
	}
}

// LifecycleOption is a function that configures a TxLifecycle
type LifecycleOption func(*TxLifecycle)

// WithTransitionHook is called after every state change, outside the lifecycle lock
func WithTransitionHook(hook TransitionHook) LifecycleOption {
	return func(l *TxLifecycle) {
		l.hooks = append(l.hooks, hook)
	}
}

// WithConfirmationTimeout bounds how long Execute waits for a receipt.
// Zero means wait until mined.
func WithConfirmationTimeout(timeout time.Duration) LifecycleOption {
	return func(l *TxLifecycle) {
		l.confirmationTimeout = timeout
	}
}

// ControllerOption is a function that configures an AppController
type ControllerOption func(*AppController)

// WithFeedStore caches the feed so it can be shown before the snapshot read returns
func WithFeedStore(store FeedStore) ControllerOption {
	return func(c *AppController) {
		c.feedStore = store
	}
}

// WithSubmissionStore persists the in-flight wave for crash recovery
func WithSubmissionStore(store SubmissionStore) ControllerOption {
	return func(c *AppController) {
		c.submissionStore = store
	}
}

// WithWaveHook is called for every wave the feed accepts from the subscription
func WithWaveHook(hook func(WaveEvent)) ControllerOption {
	return func(c *AppController) {
		c.waveHook = hook
	}
}

// WithLifecycleOptions configures the controller's TxLifecycle
func WithLifecycleOptions(opts ...LifecycleOption) ControllerOption {
	return func(c *AppController) {
		c.lifecycleOpts = append(c.lifecycleOpts, opts...)
	}
}
