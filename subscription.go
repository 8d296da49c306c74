package waveportal

import (
	"errors"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// WaveHandler receives pushed waves
type WaveHandler func(WaveEvent)

// Subscription is the handle of a NewWave push subscription.
//
// Cancel must not be called from inside the handler: it waits for the
// delivery goroutine, which is the one running the handler.
type Subscription struct {
	upstream ethereum.Subscription
	logs     chan types.Log
	decode   func(types.Log) (WaveEvent, error)
	handler  WaveHandler

	quit       chan struct{}
	done       chan struct{}
	cancelOnce sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription(
	upstream ethereum.Subscription,
	logs chan types.Log,
	decode func(types.Log) (WaveEvent, error),
	handler WaveHandler,
) *Subscription {
	s := &Subscription{
		upstream: upstream,
		logs:     logs,
		decode:   decode,
		handler:  handler,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Subscription) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.drain()
			return
		case err, ok := <-s.upstream.Err():
			if ok && err != nil {
				s.setErr(errors.Join(ErrRPC, err))
				logger.WithFields(logger.Fields{
					"error": err,
				}).Error("NewWave subscription dropped. Feed stays as is until the next refresh")
			}
			s.drain()
			return
		case l := <-s.logs:
			s.deliver(l)
		}
	}
}

// drain delivers logs that were already queued when the subscription ended
func (s *Subscription) drain() {
	for {
		select {
		case l := <-s.logs:
			s.deliver(l)
		default:
			return
		}
	}
}

func (s *Subscription) deliver(l types.Log) {
	if l.Removed {
		logger.WithFields(logger.Fields{
			"tx_hash": l.TxHash.Hex(),
			"block":   l.BlockNumber,
		}).Debug("Ignoring NewWave log removed by a reorg")
		return
	}
	ev, err := s.decode(l)
	if err != nil {
		logger.WithFields(logger.Fields{
			"tx_hash": l.TxHash.Hex(),
			"error":   err,
		}).Error("Dropping undecodable NewWave log")
		return
	}
	s.handler(ev)
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Err returns the transport error that ended the subscription, if any
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the handler will not be called anymore
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription. Logs queued before the call are still
// delivered; once Cancel returns the handler is never called again.
// Safe to call more than once and before any event arrived.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.upstream.Unsubscribe()
		close(s.quit)
	})
	<-s.done
}
