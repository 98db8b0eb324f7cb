// Package settlement encodes matched limit-order trades into settlement
// contract fill calls and submits them, one transaction at a time, from a
// single account.
package settlement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// fillMethod is the settlement contract's order-filling entry point.
	fillMethod = "fillLimitOrder"

	// fillSignature is the canonical signature of fillMethod. Its tuple
	// layouts are the contract's LimitOrder and Signature structs; any
	// artifact whose method does not match this is rejected.
	fillSignature = "fillLimitOrder(" +
		"(address,address,uint128,uint128,uint128,address,address,address,address,bytes32,uint64,uint256,bool)," +
		"(uint8,uint8,bytes32,bytes32,uint8,bytes32,bytes32)," +
		"uint128)"
)

// fillABI is the ABI fragment for fillMethod, used when no build artifact is
// configured.
const fillABI = `[{
  "type": "function",
  "name": "fillLimitOrder",
  "stateMutability": "nonpayable",
  "inputs": [
    {
      "name": "order",
      "type": "tuple",
      "internalType": "struct LimitOrder",
      "components": [
        {"name": "makerToken", "type": "address"},
        {"name": "takerToken", "type": "address"},
        {"name": "makerAmount", "type": "uint128"},
        {"name": "takerAmount", "type": "uint128"},
        {"name": "protocolFeeAmount", "type": "uint128"},
        {"name": "maker", "type": "address"},
        {"name": "taker", "type": "address"},
        {"name": "sender", "type": "address"},
        {"name": "feeRecipient", "type": "address"},
        {"name": "pool", "type": "bytes32"},
        {"name": "expiration", "type": "uint64"},
        {"name": "salt", "type": "uint256"},
        {"name": "makerIsBuyer", "type": "bool"}
      ]
    },
    {
      "name": "signature",
      "type": "tuple",
      "internalType": "struct Signature",
      "components": [
        {"name": "signatureType", "type": "uint8"},
        {"name": "makerV", "type": "uint8"},
        {"name": "makerR", "type": "bytes32"},
        {"name": "makerS", "type": "bytes32"},
        {"name": "takerV", "type": "uint8"},
        {"name": "takerR", "type": "bytes32"},
        {"name": "takerS", "type": "bytes32"}
      ]
    },
    {"name": "takerTokenFillAmount", "type": "uint128"}
  ],
  "outputs": []
}]`

// Contract is a binding to the settlement contract's fill entry point.
type Contract struct {
	address common.Address
	method  abi.Method
}

// NewContract binds the built-in fill ABI to the contract at address.
func NewContract(address common.Address) (*Contract, error) {
	return parseContract(address, []byte(fillABI))
}

// LoadContract binds the contract at address using the ABI found in a
// compiler build artifact. Both a bare ABI array and a Foundry/Hardhat
// artifact object with an "abi" member are accepted.
func LoadContract(address common.Address, artifactPath string) (*Contract, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("settlement: read artifact: %w", err)
	}

	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, fmt.Errorf("settlement: parse artifact %s: %w", artifactPath, err)
		}
		if len(artifact.ABI) == 0 {
			return nil, fmt.Errorf("settlement: artifact %s has no abi member", artifactPath)
		}
		raw = artifact.ABI
	}
	return parseContract(address, raw)
}

func parseContract(address common.Address, abiJSON []byte) (*Contract, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("settlement: parse abi: %w", err)
	}
	method, ok := parsed.Methods[fillMethod]
	if !ok {
		return nil, fmt.Errorf("settlement: abi has no %s method", fillMethod)
	}
	if method.Sig != fillSignature {
		return nil, fmt.Errorf("settlement: %s layout mismatch: got %s", fillMethod, method.Sig)
	}
	return &Contract{address: address, method: method}, nil
}

// Address returns the settlement contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// Selector returns the 4-byte function selector of the fill method.
func (c *Contract) Selector() []byte {
	return c.method.ID
}

// PackFill encodes a fill call as transaction input data.
func (c *Contract) PackFill(call EncodedCall) ([]byte, error) {
	args, err := c.method.Inputs.Pack(call.Order, call.Signatures, call.FillAmount)
	if err != nil {
		return nil, fmt.Errorf("settlement: pack %s: %w", fillMethod, err)
	}
	data := make([]byte, 0, len(c.method.ID)+len(args))
	data = append(data, c.method.ID...)
	return append(data, args...), nil
}

// UnpackFill decodes transaction input data produced by PackFill.
func (c *Contract) UnpackFill(data []byte) (call EncodedCall, err error) {
	if len(data) < 4 || !bytes.Equal(data[:4], c.method.ID) {
		return EncodedCall{}, fmt.Errorf("settlement: input is not a %s call", fillMethod)
	}
	values, err := c.method.Inputs.Unpack(data[4:])
	if err != nil {
		return EncodedCall{}, fmt.Errorf("settlement: unpack %s: %w", fillMethod, err)
	}
	if len(values) != 3 {
		return EncodedCall{}, fmt.Errorf("settlement: unpack %s: expected 3 arguments, got %d", fillMethod, len(values))
	}

	// ConvertType panics on a shape mismatch.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("settlement: unpack %s: %v", fillMethod, r)
		}
	}()
	call.Order = *abi.ConvertType(values[0], new(EncodedOrder)).(*EncodedOrder)
	call.Signatures = *abi.ConvertType(values[1], new(EncodedSignaturePair)).(*EncodedSignaturePair)
	amount, ok := values[2].(*big.Int)
	if !ok {
		return EncodedCall{}, fmt.Errorf("settlement: unpack %s: fill amount has type %T", fillMethod, values[2])
	}
	call.FillAmount = amount
	return call, nil
}

// String implements fmt.Stringer.
func (c *Contract) String() string {
	return fmt.Sprintf("%s@%s", strings.SplitN(c.method.Sig, "(", 2)[0], c.address.Hex())
}
