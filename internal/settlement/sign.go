package settlement

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

// TxSigner signs native chain transactions on behalf of one account.
// *crypto.TxSigner satisfies it.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SignedTransaction is a signed fill ready for broadcast.
type SignedTransaction struct {
	Tx   *types.Transaction
	Raw  []byte
	Hash common.Hash
}

// Sign signs p with signer and returns the raw payload and hash.
func Sign(p PendingTransaction, signer TxSigner) (SignedTransaction, error) {
	if signer == nil {
		return SignedTransaction{}, fmt.Errorf("settlement: sign: %w", domain.ErrMissingCredential)
	}
	if p.From != (common.Address{}) && p.From != signer.Address() {
		return SignedTransaction{}, fmt.Errorf("settlement: sign: sender %s does not match key %s: %w",
			p.From.Hex(), signer.Address().Hex(), domain.ErrSigningFailure)
	}

	tx, err := signer.SignTx(p.Tx(), p.ChainID)
	if err != nil {
		if errors.Is(err, domain.ErrSigningFailure) {
			return SignedTransaction{}, err
		}
		return SignedTransaction{}, fmt.Errorf("settlement: sign: %w: %w", domain.ErrSigningFailure, err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return SignedTransaction{}, fmt.Errorf("settlement: encode signed tx: %w: %w", domain.ErrSigningFailure, err)
	}
	return SignedTransaction{Tx: tx, Raw: raw, Hash: tx.Hash()}, nil
}
