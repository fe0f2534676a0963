package pipeline

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexBigInt_RoundTrip(t *testing.T) {
	var h hexBigInt
	require.NoError(t, json.Unmarshal([]byte(`"0x1a"`), &h))
	assert.Equal(t, big.NewInt(26).String(), (*big.Int)(&h).String())

	encoded, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `"0x1a"`, string(encoded))
}

func TestHexBigInt_ZeroEncodesAsZeroX0(t *testing.T) {
	h := hexBigInt(*big.NewInt(0))
	encoded, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `"0x0"`, string(encoded))
}

func TestHexUint64_RoundTrip(t *testing.T) {
	var h hexUint64
	require.NoError(t, json.Unmarshal([]byte(`"0xff"`), &h))
	assert.Equal(t, uint64(255), uint64(h))

	encoded, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `"0xff"`, string(encoded))
}

func TestHexBytes_RoundTrip(t *testing.T) {
	var h hexBytes
	require.NoError(t, json.Unmarshal([]byte(`"0xdeadbeef"`), &h))
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, []byte(h))

	encoded, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `"0xdeadbeef"`, string(encoded))
}

func TestHexBytes_OddLengthIsPadded(t *testing.T) {
	var h hexBytes
	require.NoError(t, json.Unmarshal([]byte(`"0xabc"`), &h))
	assert.Equal(t, []byte{0x0a, 0xbc}, []byte(h))
}
