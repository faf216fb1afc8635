package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"autorepay/native/autorepay"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const aggregatorABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"latestRoundData","outputs":[
  {"name":"roundId","type":"uint80"},
  {"name":"answer","type":"int256"},
  {"name":"startedAt","type":"uint256"},
  {"name":"updatedAt","type":"uint256"},
  {"name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

// ContractCaller is the subset of the Ethereum RPC used by the feed.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// AggregatorFeed reads a Chainlink-style price aggregator.
type AggregatorFeed struct {
	client  ContractCaller
	address common.Address
	abi     abi.ABI

	mu       sync.Mutex
	decimals *uint8
}

func NewAggregatorFeed(client ContractCaller, address common.Address) (*AggregatorFeed, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client required")
	}
	if (address == common.Address{}) {
		return nil, fmt.Errorf("aggregator address required")
	}
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	return &AggregatorFeed{client: client, address: address, abi: parsed}, nil
}

func (f *AggregatorFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := f.abi.Pack(method)
	if err != nil {
		return nil, err
	}
	to := f.address
	out, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := f.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Decimals is read once and cached.
func (f *AggregatorFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}
	values, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	f.decimals = &d
	return d, nil
}

// LatestPrice satisfies autorepay.PriceFeed. Non-positive answers, missing
// timestamps and stale rounds are reported as invalid quotes.
func (f *AggregatorFeed) LatestPrice(ctx context.Context) (autorepay.Quote, error) {
	decimals, err := f.Decimals(ctx)
	if err != nil {
		return autorepay.Quote{}, err
	}
	values, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return autorepay.Quote{}, err
	}
	if len(values) != 5 {
		return autorepay.Quote{}, fmt.Errorf("latestRoundData: expected 5 values, got %d", len(values))
	}
	roundID, _ := values[0].(*big.Int)
	answer, _ := values[1].(*big.Int)
	updatedAt, _ := values[3].(*big.Int)
	answeredIn, _ := values[4].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil || answeredIn == nil {
		return autorepay.Quote{}, fmt.Errorf("latestRoundData: malformed response")
	}

	quote := autorepay.Quote{
		Value:    new(big.Int).Set(answer),
		Decimals: decimals,
		Valid:    answer.Sign() > 0 && updatedAt.Sign() > 0 && answeredIn.Cmp(roundID) >= 0,
	}
	if updatedAt.Sign() > 0 && updatedAt.IsInt64() {
		quote.UpdatedAt = time.Unix(updatedAt.Int64(), 0)
	}
	return quote, nil
}
