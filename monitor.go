package waveportal

import (
	"context"
	"errors"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// receiptMonitor polls the backend for the receipt until it shows up.
// It never reports a tx as lost: a wave that was broadcast eventually
// resolves, the caller decides how long to wait through ctx.
type receiptMonitor struct {
	backend EthBackend
}

// DefaultTxMonitorFactory polls receipts on the same backend the client reads from
func DefaultTxMonitorFactory(backend EthBackend) TxMonitor {
	return &receiptMonitor{backend: backend}
}

func (m *receiptMonitor) MakeWaitChannel(ctx context.Context, txHash common.Hash, interval time.Duration) <-chan TxMonitorStatus {
	if interval <= 0 {
		interval = DefaultTxCheckInterval
	}
	result := make(chan TxMonitorStatus, 1)

	go func() {
		defer close(result)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			receipt, err := m.backend.TransactionReceipt(ctx, txHash)
			switch {
			case err == nil && receipt != nil:
				status := TxStatusDone
				if receipt.Status != types.ReceiptStatusSuccessful {
					status = TxStatusReverted
				}
				result <- TxMonitorStatus{Status: status, Receipt: receipt}
				return
			case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
				logger.WithFields(logger.Fields{
					"tx_hash": txHash.Hex(),
					"error":   err,
				}).Debug("Receipt lookup failed. Ignore and keep polling")
			}

			select {
			case <-ctx.Done():
				result <- TxMonitorStatus{Status: TxStatusCancelled}
				return
			case <-ticker.C:
			}
		}
	}()

	return result
}
