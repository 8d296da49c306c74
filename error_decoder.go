package waveportal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorDecoder turns revert data returned by a node into the Solidity error
// that produced it.
type ErrorDecoder struct {
	// errorBySelector maps the hex encoded 4-byte selector to its abi error
	errorBySelector map[string]abi.Error
}

// NewErrorDecoder collects the custom errors of every given ABI
func NewErrorDecoder(abis ...abi.ABI) (*ErrorDecoder, error) {
	if len(abis) == 0 {
		return nil, errors.New("at least one ABI must be provided")
	}
	bySelector := map[string]abi.Error{}
	for _, a := range abis {
		for _, e := range a.Errors {
			bySelector[hex.EncodeToString(e.ID[:4])] = e
		}
	}
	return &ErrorDecoder{errorBySelector: bySelector}, nil
}

// Decode returns the matched abi error and its unpacked params. The returned
// error always wraps err so callers can keep classifying it.
func (d *ErrorDecoder) Decode(err error) (*abi.Error, interface{}, error) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, nil, fmt.Errorf("not a Solidity custom error: %w", err)
	}
	data := dataErr.ErrorData()
	if data == nil {
		return nil, nil, fmt.Errorf("no error data: %w", err)
	}
	str, ok := data.(string)
	if !ok {
		return nil, nil, fmt.Errorf("error data is not string (%T): %w", data, err)
	}
	raw, decodeErr := hex.DecodeString(strings.TrimPrefix(str, "0x"))
	if decodeErr != nil {
		return nil, nil, fmt.Errorf("failed to decode error data %q (%v): %w", str, decodeErr, err)
	}
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("invalid error data length %d: %w", len(raw), err)
	}

	selector := hex.EncodeToString(raw[:4])
	abiErr, found := d.errorBySelector[selector]
	if !found {
		return nil, nil, fmt.Errorf("unknown error: 0x%s: %w", selector, err)
	}
	params, unpackErr := abiErr.Unpack(raw)
	if unpackErr != nil {
		return &abiErr, nil, fmt.Errorf("failed to unpack error selector 0x%s (%v): %w", selector, unpackErr, err)
	}
	return &abiErr, params, fmt.Errorf("contract error: %s%v: %w", abiErr.Name, params, err)
}

// Reason renders a human readable revert reason. require() messages are
// unpacked directly, custom errors go through the decoder when one is set.
func (d *ErrorDecoder) Reason(err error, revertData []byte) string {
	if msg, unpackErr := abi.UnpackRevert(revertData); unpackErr == nil {
		return msg
	}
	if d != nil {
		if abiErr, params, _ := d.Decode(err); abiErr != nil {
			return fmt.Sprintf("%s%v", abiErr.Name, params)
		}
	}
	if len(revertData) > 0 {
		return "0x" + hex.EncodeToString(revertData)
	}
	return err.Error()
}
