package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Caller performs a read-only contract call and unpacks the outputs into
// result. Implementations must be safe for concurrent use.
type Caller interface {
	Call(ctx context.Context, result *[]interface{}, method string, params ...interface{}) error
}

// BoundCaller is the production Caller backed by an RPC endpoint and a
// deployed contract.
type BoundCaller struct {
	contract *bind.BoundContract
}

// Dial connects to the RPC endpoint and binds the contract at addr with the
// given ABI JSON.
func Dial(rpcURL, addr, abiJSON string) (*BoundCaller, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid contract address %q", addr)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	contract := bind.NewBoundContract(common.HexToAddress(addr), parsed, client, client, client)
	return &BoundCaller{contract: contract}, nil
}

// Call invokes a view method on the bound contract.
func (c *BoundCaller) Call(ctx context.Context, result *[]interface{}, method string, params ...interface{}) error {
	return c.contract.Call(&bind.CallOpts{Context: ctx}, result, method, params...)
}

// ToUint64 narrows a *big.Int contract output, returning 0 for nil.
func ToUint64(v *big.Int) uint64 {
	if v == nil {
		return 0
	}
	return v.Uint64()
}
