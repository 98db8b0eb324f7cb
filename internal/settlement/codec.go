package settlement

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// Constants fixed by the targeted settlement contract version.
const (
	// SignatureTypeEIP712 is the signature scheme tag the contract accepts.
	SignatureTypeEIP712 uint8 = 2

	amountBits     = 128
	expirationBits = 64
	saltBits       = 256
	recoveryBits   = 8
)

// ProtocolFeeAmount is always zero for fills submitted by this pipeline.
func ProtocolFeeAmount() *big.Int {
	return new(big.Int)
}

// EncodedOrder mirrors the contract's LimitOrder struct. Field order is the
// ABI tuple order and must not change.
type EncodedOrder struct {
	MakerToken        common.Address
	TakerToken        common.Address
	MakerAmount       *big.Int
	TakerAmount       *big.Int
	ProtocolFeeAmount *big.Int
	Maker             common.Address
	Taker             common.Address
	Sender            common.Address
	FeeRecipient      common.Address
	Pool              [32]byte
	Expiration        uint64
	Salt              *big.Int
	MakerIsBuyer      bool
}

// EncodedSignaturePair mirrors the contract's Signature struct carrying both
// the maker's and taker's order signatures.
type EncodedSignaturePair struct {
	SignatureType uint8
	MakerV        uint8
	MakerR        [32]byte
	MakerS        [32]byte
	TakerV        uint8
	TakerR        [32]byte
	TakerS        [32]byte
}

// EncodedCall is the full argument list of one fill call.
type EncodedCall struct {
	Order      EncodedOrder
	Signatures EncodedSignaturePair
	FillAmount *big.Int
}

// Encode validates a trade and converts it into fill call arguments. The
// fill amount is the order's full taker amount.
func Encode(trade domain.TradeRecord) (EncodedCall, error) {
	order, err := EncodeOrder(trade)
	if err != nil {
		return EncodedCall{}, err
	}
	sigs, err := EncodeSignatures(trade)
	if err != nil {
		return EncodedCall{}, err
	}
	return EncodedCall{
		Order:      order,
		Signatures: sigs,
		FillAmount: new(big.Int).Set(order.TakerAmount),
	}, nil
}

// EncodeOrder builds the LimitOrder tuple from a trade.
func EncodeOrder(trade domain.TradeRecord) (EncodedOrder, error) {
	var o EncodedOrder
	p := fieldParser{}

	o.MakerToken = p.address("makerToken", trade.MakerToken)
	o.TakerToken = p.address("takerToken", trade.TakerToken)
	o.MakerAmount = p.number("makerAmount", trade.MakerAmount.String(), amountBits)
	o.TakerAmount = p.number("takerAmount", trade.TakerAmount.String(), amountBits)
	o.ProtocolFeeAmount = ProtocolFeeAmount()
	o.Maker = p.address("maker", trade.Maker)
	o.Taker = p.address("taker", trade.Taker)
	o.Sender = p.address("sender", trade.Sender)
	o.FeeRecipient = p.address("feeRecipient", trade.FeeRecipient)
	o.Pool = p.bytes32("pool", trade.Pool)
	if exp := p.number("expiration", trade.Expiration.String(), expirationBits); exp != nil {
		o.Expiration = exp.Uint64()
	}
	o.Salt = p.number("salt", trade.Salt.String(), saltBits)
	o.MakerIsBuyer = trade.MakerIsBuyer

	if p.err != nil {
		return EncodedOrder{}, p.err
	}
	return o, nil
}

// EncodeSignatures builds the Signature tuple from a trade.
func EncodeSignatures(trade domain.TradeRecord) (EncodedSignaturePair, error) {
	p := fieldParser{}
	s := EncodedSignaturePair{
		SignatureType: SignatureTypeEIP712,
		MakerV:        p.recovery("maker_v", trade.MakerV.String()),
		MakerR:        p.bytes32("maker_r", trade.MakerR),
		MakerS:        p.bytes32("maker_s", trade.MakerS),
		TakerV:        p.recovery("taker_v", trade.TakerV.String()),
		TakerR:        p.bytes32("taker_r", trade.TakerR),
		TakerS:        p.bytes32("taker_s", trade.TakerS),
	}
	if p.err != nil {
		return EncodedSignaturePair{}, p.err
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Field parsing
// --------------------------------------------------------------------------

// fieldParser records the first field error and turns later calls into
// no-ops, so a record is rejected on the first bad field in ABI order.
type fieldParser struct {
	err error
}

func (p *fieldParser) fail(field, value string, kind error, detail string) {
	if p.err == nil {
		p.err = fmt.Errorf("settlement: field %s %q: %s: %w", field, value, detail, kind)
	}
}

// address accepts 20-byte hex with an optional 0x prefix. Mixed-case input
// must carry a valid EIP-55 checksum; single-case input is normalised.
func (p *fieldParser) address(field, value string) common.Address {
	if p.err != nil {
		return common.Address{}
	}
	s := strings.TrimSpace(value)
	if !common.IsHexAddress(s) {
		p.fail(field, value, domain.ErrInvalidAddress, "not a 20-byte hex address")
		return common.Address{}
	}
	addr := common.HexToAddress(s)
	body := trimHexPrefix(s)
	mixed := body != strings.ToLower(body) && body != strings.ToUpper(body)
	if mixed && addr.Hex()[2:] != body {
		p.fail(field, value, domain.ErrInvalidAddress, "checksum mismatch")
		return common.Address{}
	}
	return addr
}

func (p *fieldParser) bytes32(field, value string) [32]byte {
	var out [32]byte
	if p.err != nil {
		return out
	}
	b, err := hex.DecodeString(trimHexPrefix(strings.TrimSpace(value)))
	if err != nil {
		p.fail(field, value, domain.ErrInvalidByteLength, "not hex")
		return out
	}
	if len(b) != len(out) {
		p.fail(field, value, domain.ErrInvalidByteLength, fmt.Sprintf("decoded to %d bytes, want 32", len(b)))
		return out
	}
	copy(out[:], b)
	return out
}

// number parses a decimal integer and range-checks it against bits.
func (p *fieldParser) number(field, value string, bits int) *big.Int {
	if p.err != nil {
		return nil
	}
	n, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		p.fail(field, value, domain.ErrInvalidNumber, "not a decimal integer")
		return nil
	}
	if n.Sign() < 0 || n.BitLen() > bits {
		p.fail(field, value, domain.ErrNumericOverflow, fmt.Sprintf("out of range for uint%d", bits))
		return nil
	}
	return n
}

func (p *fieldParser) recovery(field, value string) uint8 {
	n := p.number(field, value, recoveryBits)
	if n == nil {
		return 0
	}
	return uint8(n.Uint64())
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
