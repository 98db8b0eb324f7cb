package crypto

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

func generateKeyHex(t *testing.T) (string, common.Address) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey)
}

func TestNewTxSigner(t *testing.T) {
	keyHex, addr := generateKeyHex(t)

	for _, in := range []string{keyHex, "0x" + keyHex, "  " + keyHex + "\n"} {
		s, err := NewTxSigner(in)
		require.NoError(t, err)
		assert.Equal(t, addr, s.Address())
	}
}

func TestNewTxSigner_Errors(t *testing.T) {
	_, err := NewTxSigner("")
	assert.ErrorIs(t, err, domain.ErrMissingCredential)

	_, err = NewTxSigner("0xnothex")
	assert.ErrorIs(t, err, domain.ErrSigningFailure)

	_, err = NewTxSigner("abcd")
	assert.ErrorIs(t, err, domain.ErrSigningFailure)
}

func TestTxSigner_SignTx(t *testing.T) {
	keyHex, addr := generateKeyHex(t)
	s, err := NewTxSigner(keyHex)
	require.NoError(t, err)

	to := common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    3,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      500_000,
		To:       &to,
		Value:    new(big.Int),
		Data:     []byte{0x01, 0x02},
	})
	chainID := big.NewInt(31337)

	signed, err := s.SignTx(tx, chainID)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, addr, sender)

	_, err = s.SignTx(tx, nil)
	assert.ErrorIs(t, err, domain.ErrSigningFailure)
	_, err = s.SignTx(tx, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrSigningFailure)

	var zero *TxSigner
	_, err = zero.SignTx(tx, chainID)
	assert.ErrorIs(t, err, domain.ErrMissingCredential)
}

func TestTxSigner_StringIsRedacted(t *testing.T) {
	keyHex, _ := generateKeyHex(t)
	s, err := NewTxSigner(keyHex)
	require.NoError(t, err)

	assert.NotContains(t, s.String(), keyHex)
	assert.Contains(t, s.String(), keyHex[:6]+"...")
}

func TestRedactKey(t *testing.T) {
	assert.Equal(t, "0xac09...ff80", RedactKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"))
	assert.Equal(t, "****", RedactKey("short"))
	assert.Equal(t, "****", RedactKey(""))
}
