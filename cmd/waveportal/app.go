package main

import (
	"context"
	"fmt"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"

	"github.com/tranvictor/waveportal"
	"github.com/tranvictor/waveportal/internal/config"
	redisstore "github.com/tranvictor/waveportal/persistence/redis"
)

// app is everything a command needs, built from the environment
type app struct {
	cfg        config.Config
	controller *waveportal.AppController
	client     *waveportal.ContractClient

	closers []func()
}

func newApp(ctx context.Context, envFiles []string, extra ...waveportal.ControllerOption) (*app, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	a := &app{cfg: cfg}

	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("couldn't dial %s: %w", cfg.RPCURL, err)
	}
	a.closers = append(a.closers, backend.Close)

	provider, err := cfg.Provider()
	if err != nil {
		a.Close()
		return nil, err
	}
	gateway := waveportal.NewWalletGateway(provider)

	clientOpts := []waveportal.ClientOption{
		waveportal.WithGasLimit(cfg.GasLimit),
		waveportal.WithTxCheckInterval(cfg.TxCheckInterval),
	}
	if cfg.JarvisMonitor {
		chainID, err := backend.ChainID(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't get chain id: %w", err)
		}
		monitor, err := waveportal.NewJarvisTxMonitor(chainID.Uint64())
		if err != nil {
			a.Close()
			return nil, err
		}
		clientOpts = append(clientOpts, waveportal.WithTxMonitorFactory(func(waveportal.EthBackend) waveportal.TxMonitor {
			return monitor
		}))
	}

	a.client, err = waveportal.NewContractClient(cfg.ContractAddress(), backend, gateway, clientOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []waveportal.ControllerOption{
		waveportal.WithLifecycleOptions(waveportal.WithConfirmationTimeout(cfg.ConfirmationTimeout)),
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't parse redis url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		opts = append(opts,
			waveportal.WithFeedStore(redisstore.NewFeedStore(rdb, redisstore.WithFeedStoreKeyPrefix(cfg.RedisPrefix))),
			waveportal.WithSubmissionStore(redisstore.NewSubmissionStore(rdb, redisstore.WithSubmissionStoreKeyPrefix(cfg.RedisPrefix))),
		)
		logger.WithFields(logger.Fields{
			"prefix": cfg.RedisPrefix,
		}).Debug("Persisting feed and submissions to redis")
	}

	a.controller, err = waveportal.NewAppController(gateway, a.client, append(opts, extra...)...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.controller.Close)
	return a, nil
}

// session finds an authorized account or prompts for one, then resumes any
// wave left in flight by an earlier run
func (a *app) session(ctx context.Context) (*waveportal.PendingWave, error) {
	_, ok, err := a.controller.CheckConnection(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := a.controller.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return a.controller.Recover(ctx)
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
