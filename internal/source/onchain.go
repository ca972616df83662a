package source

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ratewatch/internal/rates"
)

const aggregatorABIJSON = `[
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// OracleOptions parameterise the on-chain price fetcher.
type OracleOptions struct {
	RPCURL string
	// Feeds maps pairs (BASE/QUOTE notation) to aggregator contract
	// addresses.
	Feeds   map[string]string
	Timeout time.Duration
}

// Oracle reads crypto prices from Chainlink-style aggregator contracts over
// Ethereum RPC.
type Oracle struct {
	opts      OracleOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	decimalsMux sync.Mutex
	decimals    map[common.Address]int32
}

// NewOracle builds an on-chain price fetcher.
func NewOracle(opts OracleOptions, logger zerolog.Logger) *Oracle {
	return &Oracle{
		opts:     opts,
		logger:   logger.With().Str("component", "oracle_source").Logger(),
		decimals: make(map[common.Address]int32),
	}
}

// Fetch reads latestRoundData from every configured feed.
func (o *Oracle) Fetch(ctx context.Context, class rates.Class) ([]rates.Snapshot, error) {
	if class != rates.ClassCrypto {
		return nil, Permanent("oracle", fmt.Errorf("unsupported asset class %q", class))
	}
	if o.opts.RPCURL == "" {
		return nil, Permanent("oracle", errors.New("ethereum rpc url not configured"))
	}
	if len(o.opts.Feeds) == 0 {
		return nil, Permanent("oracle", errors.New("no price feeds configured"))
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return nil, Transient("oracle", err)
	}

	snapshots := make([]rates.Snapshot, 0, len(o.opts.Feeds))
	for pairText, addrHex := range o.opts.Feeds {
		pair, err := rates.ParsePair(pairText)
		if err != nil {
			return nil, Permanent("oracle", err)
		}

		addr := common.HexToAddress(addrHex)
		snap, err := o.readFeed(ctx, client, pair, addr)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (o *Oracle) readFeed(ctx context.Context, client *ethclient.Client, pair rates.Pair, addr common.Address) (rates.Snapshot, error) {
	scale, err := o.feedDecimals(ctx, client, addr)
	if err != nil {
		return rates.Snapshot{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return rates.Snapshot{}, Permanent("oracle", err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return rates.Snapshot{}, Transient("oracle", err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return rates.Snapshot{}, Transient("oracle", err)
	}
	if len(outputs) != 5 {
		return rates.Snapshot{}, Transient("oracle", errors.New("unexpected latestRoundData response"))
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return rates.Snapshot{}, Transient("oracle", errors.New("failed to decode aggregator answer"))
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return rates.Snapshot{}, Transient("oracle", errors.New("failed to decode aggregator timestamp"))
	}

	snap := rates.Snapshot{
		Pair:       pair,
		Class:      rates.ClassCrypto,
		Rate:       decimal.NewFromBigInt(answer, -scale),
		ObservedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
		Source:     "oracle",
	}
	if err := snap.Validate(); err != nil {
		return rates.Snapshot{}, Transient("oracle", err)
	}
	return snap, nil
}

func (o *Oracle) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int32, error) {
	o.decimalsMux.Lock()
	scale, ok := o.decimals[addr]
	o.decimalsMux.Unlock()
	if ok {
		return scale, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, Permanent("oracle", err)
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, Transient("oracle", err)
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil || len(outputs) != 1 {
		return 0, Transient("oracle", errors.New("unexpected decimals response"))
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, Transient("oracle", errors.New("failed to decode feed decimals"))
	}

	scale = int32(d)
	o.decimalsMux.Lock()
	o.decimals[addr] = scale
	o.decimalsMux.Unlock()
	return scale, nil
}

func (o *Oracle) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ Fetcher = (*Oracle)(nil)
