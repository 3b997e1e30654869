package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbgraph/internal/domain"
)

// pairABI holds the UniswapV2 pair Swap event.
const pairABI = `[{"anonymous":false,"inputs":[
{"indexed":true,"internalType":"address","name":"sender","type":"address"},
{"indexed":false,"internalType":"uint256","name":"amount0In","type":"uint256"},
{"indexed":false,"internalType":"uint256","name":"amount1In","type":"uint256"},
{"indexed":false,"internalType":"uint256","name":"amount0Out","type":"uint256"},
{"indexed":false,"internalType":"uint256","name":"amount1Out","type":"uint256"},
{"indexed":true,"internalType":"address","name":"to","type":"address"}],
"name":"Swap","type":"event"}]`

const swapEvent = "Swap"

// Pair is a watched liquidity pool. Token0 and Token1 are graph asset keys
// in the pool's own token order.
type Pair struct {
	Address   common.Address
	Token0    string
	Token1    string
	Decimals0 int32
	Decimals1 int32
	Venue     string
}

// Swap is a decoded pair Swap log.
type Swap struct {
	Pair       common.Address
	Block      uint64
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// SwapDecoder turns raw pair logs into rate observations.
type SwapDecoder struct {
	abi   abi.ABI
	topic common.Hash
	pairs map[common.Address]Pair
}

// NewSwapDecoder parses the pair ABI and indexes pairs by address.
func NewSwapDecoder(pairs []Pair) (*SwapDecoder, error) {
	parsed, err := abi.JSON(strings.NewReader(pairABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse pair abi: %w", err)
	}
	byAddr := make(map[common.Address]Pair, len(pairs))
	for _, p := range pairs {
		if p.Token0 == "" || p.Token1 == "" || p.Venue == "" {
			return nil, fmt.Errorf("chain: pair %s: token0, token1 and venue are required", p.Address.Hex())
		}
		byAddr[p.Address] = p
	}
	return &SwapDecoder{
		abi:   parsed,
		topic: parsed.Events[swapEvent].ID,
		pairs: byAddr,
	}, nil
}

// Topic is the Swap event signature hash.
func (d *SwapDecoder) Topic() common.Hash { return d.topic }

// Addresses lists the watched pair contracts.
func (d *SwapDecoder) Addresses() []common.Address {
	out := make([]common.Address, 0, len(d.pairs))
	for a := range d.pairs {
		out = append(out, a)
	}
	return out
}

// Unpack decodes the non-indexed Swap amounts.
func (d *SwapDecoder) Unpack(lg types.Log) (Swap, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != d.topic {
		return Swap{}, fmt.Errorf("%w: log is not a Swap event", domain.ErrMalformedEvent)
	}
	vals, err := d.abi.Unpack(swapEvent, lg.Data)
	if err != nil {
		return Swap{}, fmt.Errorf("%w: unpack swap: %v", domain.ErrMalformedEvent, err)
	}
	if len(vals) != 4 {
		return Swap{}, fmt.Errorf("%w: swap has %d fields", domain.ErrMalformedEvent, len(vals))
	}
	amounts := make([]*big.Int, 4)
	for i, v := range vals {
		n, ok := v.(*big.Int)
		if !ok {
			return Swap{}, fmt.Errorf("%w: swap field %d is %T", domain.ErrMalformedEvent, i, v)
		}
		amounts[i] = n
	}
	return Swap{
		Pair:       lg.Address,
		Block:      lg.BlockNumber,
		Amount0In:  amounts[0],
		Amount1In:  amounts[1],
		Amount0Out: amounts[2],
		Amount1Out: amounts[3],
	}, nil
}

// Decode converts a Swap log into the observation for the traded direction.
func (d *SwapDecoder) Decode(lg types.Log) (domain.RateObservation, error) {
	pair, ok := d.pairs[lg.Address]
	if !ok {
		return domain.RateObservation{}, fmt.Errorf("%w: unknown pair %s", domain.ErrMalformedEvent, lg.Address.Hex())
	}
	sw, err := d.Unpack(lg)
	if err != nil {
		return domain.RateObservation{}, err
	}

	obs := domain.RateObservation{Venue: pair.Venue}
	var rate float64
	switch {
	case sw.Amount0In.Sign() > 0 && sw.Amount1Out.Sign() > 0:
		obs.Source, obs.Target = pair.Token0, pair.Token1
		rate, err = SwapRate(sw.Amount0In, pair.Decimals0, sw.Amount1Out, pair.Decimals1)
	case sw.Amount1In.Sign() > 0 && sw.Amount0Out.Sign() > 0:
		obs.Source, obs.Target = pair.Token1, pair.Token0
		rate, err = SwapRate(sw.Amount1In, pair.Decimals1, sw.Amount0Out, pair.Decimals0)
	default:
		return domain.RateObservation{}, fmt.Errorf("%w: swap on %s moved no tokens", domain.ErrMalformedEvent, pair.Address.Hex())
	}
	if err != nil {
		return domain.RateObservation{}, err
	}
	obs.Rate = rate
	return obs, nil
}

// SwapRate is the amount of output token received per whole input token,
// with both raw amounts scaled by their token decimals.
func SwapRate(amountIn *big.Int, decIn int32, amountOut *big.Int, decOut int32) (float64, error) {
	if amountIn == nil || amountOut == nil || amountIn.Sign() <= 0 || amountOut.Sign() <= 0 {
		return 0, fmt.Errorf("%w: swap amounts must be positive", domain.ErrMalformedEvent)
	}
	in := decimal.NewFromBigInt(amountIn, -decIn)
	out := decimal.NewFromBigInt(amountOut, -decOut)
	// Quotient of the exact rationals; Div would truncate to a fixed
	// number of decimal places and flush tiny rates to zero.
	rate, _ := new(big.Rat).Quo(out.Rat(), in.Rat()).Float64()
	if err := domain.ValidateRate(rate); err != nil {
		return 0, err
	}
	return rate, nil
}
