package tradefeed

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/settlebot/internal/domain"
)

const packagedTrades = `[
  {
    "makerToken": "0xa1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1",
    "takerToken": "0xb2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2",
    "makerAmount": "1000000000000000000",
    "takerAmount": 500000000000000000,
    "maker": "0xc3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3c3",
    "taker": "0xd4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4d4",
    "sender": "0xe5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5",
    "feeRecipient": "0xf6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6f6",
    "pool": "0x0101010101010101010101010101010101010101010101010101010101010101",
    "expiration": "1999999999",
    "salt": 123456789,
    "makerIsBuyer": true,
    "maker_v": 27,
    "maker_r": "0x1111111111111111111111111111111111111111111111111111111111111111",
    "maker_s": "0x2222222222222222222222222222222222222222222222222222222222222222",
    "taker_v": "28",
    "taker_r": "0x3333333333333333333333333333333333333333333333333333333333333333",
    "taker_s": "0x4444444444444444444444444444444444444444444444444444444444444444",
    "matchedAt": "2024-05-01T12:00:00Z"
  },
  {
    "makerToken": "0xa1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1a1",
    "makerIsBuyer": false
  }
]`

func TestDecode(t *testing.T) {
	trades, err := Decode(strings.NewReader(packagedTrades))
	require.NoError(t, err)
	require.Len(t, trades, 2)

	first := trades[0]
	assert.Equal(t, domain.Text("1000000000000000000"), first.MakerAmount)
	assert.Equal(t, domain.Text("500000000000000000"), first.TakerAmount)
	assert.Equal(t, domain.Text("123456789"), first.Salt)
	assert.Equal(t, domain.Text("27"), first.MakerV)
	assert.Equal(t, domain.Text("28"), first.TakerV)
	assert.True(t, first.MakerIsBuyer)
	assert.Equal(t, "0x4444444444444444444444444444444444444444444444444444444444444444", first.TakerS)

	assert.False(t, trades[1].MakerIsBuyer)
	assert.Empty(t, trades[1].Pool)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"makerToken": "0x"}`))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader(`[{"makerAmount": {"nested": 1}}]`))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packaged_trades.json")
	require.NoError(t, os.WriteFile(path, []byte(packagedTrades), 0o600))

	trades, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "missing.json")
}

type MockBlobReader struct {
	mock.Mock
}

func (m *MockBlobReader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockBlobReader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	args := m.Called(ctx, prefix)
	return args.Get(0).([]domain.BlobInfo), args.Error(1)
}

func (m *MockBlobReader) Exists(ctx context.Context, path string) (bool, error) {
	args := m.Called(ctx, path)
	return args.Bool(0), args.Error(1)
}

func TestLoadBlob(t *testing.T) {
	ctx := context.Background()
	blobs := new(MockBlobReader)
	blobs.On("Get", ctx, "batches/b1.json").
		Return(io.NopCloser(bytes.NewBufferString(packagedTrades)), nil)
	blobs.On("Get", ctx, "batches/missing.json").
		Return(nil, domain.ErrNotFound)

	trades, err := LoadBlob(ctx, blobs, "batches/b1.json")
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	_, err = LoadBlob(ctx, blobs, "batches/missing.json")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	blobs.AssertExpectations(t)
}
