package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/settlebot/internal/domain"
	"github.com/alanyoungcy/settlebot/internal/settlement"
)

var _ settlement.TxSigner = (*TxSigner)(nil)

// TxSigner signs native transactions with a secp256k1 submitter key.
type TxSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	redacted   string
}

// NewTxSigner creates a TxSigner from a hex-encoded private key (with or
// without 0x prefix). An empty key yields domain.ErrMissingCredential; a
// malformed key yields domain.ErrSigningFailure.
func NewTxSigner(privateKeyHex string) (*TxSigner, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("crypto/signer: %w: private key is empty", domain.ErrMissingCredential)
	}
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key %s: %w: %w", RedactKey(privateKeyHex), domain.ErrSigningFailure, err)
	}
	return &TxSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		redacted:   RedactKey(privateKeyHex),
	}, nil
}

// Address returns the account that signs with this key.
func (s *TxSigner) Address() common.Address {
	return s.address
}

// SignTx signs tx for chainID using the latest signer rules for that chain.
func (s *TxSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, fmt.Errorf("crypto/signer: %w", domain.ErrMissingCredential)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("crypto/signer: %w: chain id must be positive", domain.ErrSigningFailure)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w: %w", domain.ErrSigningFailure, err)
	}
	return signed, nil
}

// String returns a redacted representation suitable for logging.
func (s *TxSigner) String() string {
	return fmt.Sprintf("TxSigner{address=%s, key=%s}", s.address.Hex(), s.redacted)
}

// RedactKey keeps only the first six and last four characters of a secret.
func RedactKey(key string) string {
	if len(key) <= 10 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}
