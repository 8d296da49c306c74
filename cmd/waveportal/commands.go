package main

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	jarviscommon "github.com/tranvictor/jarvis/common"

	"github.com/tranvictor/waveportal"
)

const appName = "waveportal"

// NewRootCmd creates the root command. It is called once in the main function.
func NewRootCmd() *cobra.Command {
	var envFiles []string

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Wave at a wave portal contract and follow its feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load before reading the environment")

	rootCmd.AddCommand(
		NewConnectCmd(&envFiles),
		NewCountCmd(&envFiles),
		NewWavesCmd(&envFiles),
		NewWaveCmd(&envFiles),
		NewWatchCmd(&envFiles),
	)
	return rootCmd
}

func NewConnectCmd(envFiles *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connect",
		Short:   "Connect the wallet and resume a wave left in flight",
		Example: fmt.Sprintf("%s connect", appName),
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *envFiles)
			if err != nil {
				return err
			}
			defer a.Close()

			recovered, err := a.session(cmd.Context())
			if err != nil {
				return explain(err)
			}
			acc, _ := a.controller.Account()
			fmt.Fprintf(cmd.OutOrStdout(), "Connected: %s\n", acc.Hex())
			if recovered != nil {
				printResult(cmd.OutOrStdout(), *recovered)
			}
			return nil
		},
	}
	return cmd
}

func NewCountCmd(envFiles *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "count",
		Short:   "Print the total wave count and the prize pool",
		Example: fmt.Sprintf("%s count", appName),
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *envFiles)
			if err != nil {
				return err
			}
			defer a.Close()

			count, err := a.client.GetTotalWaveCount(cmd.Context())
			if err != nil {
				return explain(err)
			}
			balance, err := a.client.GetBalance(cmd.Context())
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retrieved total wave count... %s\n", count.String())
			fmt.Fprintf(cmd.OutOrStdout(), "Contract balance: %f ETH\n", jarviscommon.BigToFloat(balance, 18))
			return nil
		},
	}
	return cmd
}

func NewWavesCmd(envFiles *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "waves",
		Short:   "Print every wave, most recent first",
		Example: fmt.Sprintf("%s waves", appName),
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *envFiles)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.controller.Refresh(cmd.Context()); err != nil {
				return explain(err)
			}
			for _, w := range a.controller.Feed() {
				printWave(cmd.OutOrStdout(), w)
			}
			return nil
		},
	}
	return cmd
}

func NewWaveCmd(envFiles *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wave [message]",
		Short:   "Send a wave and wait until it is mined",
		Example: fmt.Sprintf("%s wave gm", appName),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			progress := func(prev waveportal.TxState, current waveportal.PendingWave) {
				switch current.State {
				case waveportal.TxSigning:
					fmt.Fprintln(out, "Confirm the wave in your wallet...")
				case waveportal.TxPending:
					fmt.Fprintf(out, "Mining... %s\n", current.Tx.Hash().Hex())
				}
			}
			a, err := newApp(cmd.Context(), *envFiles,
				waveportal.WithLifecycleOptions(waveportal.WithTransitionHook(progress)))
			if err != nil {
				return err
			}
			defer a.Close()

			recovered, err := a.session(cmd.Context())
			if err != nil {
				return explain(err)
			}
			if recovered != nil {
				printResult(out, *recovered)
			}

			result, err := a.controller.SubmitWave(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			printResult(out, result)
			if result.State == waveportal.TxFailed {
				return explain(result.Err)
			}
			return nil
		},
	}
	return cmd
}

func NewWatchCmd(envFiles *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Print the feed, then every new wave until interrupted",
		Example: fmt.Sprintf("%s watch", appName),
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			printer := &feedPrinter{w: cmd.OutOrStdout()}
			a, err := newApp(cmd.Context(), *envFiles, waveportal.WithWaveHook(printer.push))
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.session(cmd.Context()); err != nil {
				return explain(err)
			}
			printer.backlog(a.controller.Feed())

			sub := a.controller.Subscription()
			if sub == nil {
				return errors.New("no active subscription")
			}
			select {
			case <-cmd.Context().Done():
				return nil
			case <-sub.Done():
				return explain(sub.Err())
			}
		},
	}
	return cmd
}

// feedPrinter holds back pushed waves until the backlog is out, so a wave
// that made it into both is printed once
type feedPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	ready   bool
	pending []waveportal.WaveEvent
}

func (p *feedPrinter) push(wave waveportal.WaveEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		p.pending = append(p.pending, wave)
		return
	}
	printWave(p.w, wave)
}

// backlog prints feed oldest first, then the held waves it didn't contain
func (p *feedPrinter) backlog(feed []waveportal.WaveEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[waveportal.WaveKey]struct{}, len(feed))
	for i := len(feed) - 1; i >= 0; i-- {
		seen[feed[i].Key()] = struct{}{}
		printWave(p.w, feed[i])
	}
	for _, wave := range p.pending {
		if _, ok := seen[wave.Key()]; ok {
			continue
		}
		seen[wave.Key()] = struct{}{}
		printWave(p.w, wave)
	}
	p.pending = nil
	p.ready = true
}

func printWave(w io.Writer, wave waveportal.WaveEvent) {
	line := fmt.Sprintf("%s  %s  %s", wave.Time().Format(time.RFC3339), wave.Address.Hex(), wave.Message)
	if wave.Rewarded() {
		line += "  (won ETH)"
	}
	fmt.Fprintln(w, line)
}

func printResult(w io.Writer, result waveportal.PendingWave) {
	switch result.State {
	case waveportal.TxConfirmed:
		fmt.Fprintf(w, "Mined -- %s\n", result.Receipt.TxHash.Hex())
		if result.Rewarded {
			fmt.Fprintf(w, "You won %f ETH!\n",
				jarviscommon.BigToFloat(new(big.Int).Sub(result.BalanceBefore, result.BalanceAfter), 18))
		} else {
			fmt.Fprintln(w, "You didn't win ETH this time")
		}
	case waveportal.TxFailed:
		fmt.Fprintf(w, "Wave failed (%s)\n", result.Kind)
	}
}

// explain turns library errors into something the user can act on
func explain(err error) error {
	switch waveportal.KindOf(err) {
	case waveportal.KindNoProvider:
		return fmt.Errorf("no wallet configured, set WAVEPORTAL_PRIVATE_KEY or WAVEPORTAL_KEYSTORE_ACCOUNT: %w", err)
	case waveportal.KindUserRejected, waveportal.KindSubmissionRejected:
		return fmt.Errorf("request declined, nothing was sent: %w", err)
	case waveportal.KindRPC:
		return fmt.Errorf("node request failed, try again: %w", err)
	default:
		return err
	}
}
