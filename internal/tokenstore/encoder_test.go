package tokenstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealEncoder_RoundTrip(t *testing.T) {
	enc, err := NewSealEncoder("passphrase")
	require.NoError(t, err)

	sealed, err := enc.Encode([]byte(`{"access_token":"a1"}`))
	require.NoError(t, err)
	require.NotContains(t, sealed, "a1")

	again, err := enc.Encode([]byte(`{"access_token":"a1"}`))
	require.NoError(t, err)
	require.NotEqual(t, sealed, again, "nonce must differ per record")

	plain, err := enc.Decode(sealed)
	require.NoError(t, err)
	require.Equal(t, `{"access_token":"a1"}`, string(plain))
}

func TestSealEncoder_RejectsForeignRecords(t *testing.T) {
	a, err := NewSealEncoder("one")
	require.NoError(t, err)
	b, err := NewSealEncoder("two")
	require.NoError(t, err)

	sealed, err := a.Encode([]byte("data"))
	require.NoError(t, err)

	_, err = b.Decode(sealed)
	require.ErrorIs(t, err, ErrMalformedRecord)
	_, err = a.Decode("%%%")
	require.ErrorIs(t, err, ErrMalformedRecord)
	_, err = a.Decode("abc")
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestNewSealEncoder_RequiresPassphrase(t *testing.T) {
	_, err := NewSealEncoder("")
	require.Error(t, err)
}
