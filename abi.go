package waveportal

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// WavePortalABI is the contract surface this client talks to.
const WavePortalABI = `[
	{"type":"function","name":"wave","stateMutability":"nonpayable",
	 "inputs":[{"name":"_message","type":"string","internalType":"string"}],"outputs":[]},
	{"type":"function","name":"getAllWaves","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"tuple[]","internalType":"struct WavePortal.Wave[]","components":[
		{"name":"waver","type":"address","internalType":"address"},
		{"name":"timestamp","type":"uint256","internalType":"uint256"},
		{"name":"message","type":"string","internalType":"string"},
		{"name":"seed","type":"uint256","internalType":"uint256"}]}]},
	{"type":"function","name":"getTotalWaves","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256","internalType":"uint256"}]},
	{"type":"event","name":"NewWave","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true,"internalType":"address"},
		{"name":"timestamp","type":"uint256","indexed":false,"internalType":"uint256"},
		{"name":"message","type":"string","indexed":false,"internalType":"string"},
		{"name":"seed","type":"uint256","indexed":false,"internalType":"uint256"}]}
]`

const (
	methodWave          = "wave"
	methodGetAllWaves   = "getAllWaves"
	methodGetTotalWaves = "getTotalWaves"
	eventNewWave        = "NewWave"
)

// waveRecord mirrors the Wave struct returned by getAllWaves
type waveRecord struct {
	Waver     common.Address
	Timestamp *big.Int
	Message   string
	Seed      *big.Int
}

// newWaveData mirrors the non-indexed fields of NewWave
type newWaveData struct {
	Timestamp *big.Int
	Message   string
	Seed      *big.Int
}

// ParseWavePortalABI parses WavePortalABI and checks it carries everything
// the client calls.
func ParseWavePortalABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(WavePortalABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("couldn't parse wave portal abi: %w", err)
	}
	for _, m := range []string{methodWave, methodGetAllWaves, methodGetTotalWaves} {
		if _, ok := parsed.Methods[m]; !ok {
			return abi.ABI{}, fmt.Errorf("wave portal abi lacks method %s", m)
		}
	}
	if _, ok := parsed.Events[eventNewWave]; !ok {
		return abi.ABI{}, fmt.Errorf("wave portal abi lacks event %s", eventNewWave)
	}
	return parsed, nil
}
