package storage

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

// ✅ happy path – encode and decode
func TestCursor_EncodeDecode_Success(t *testing.T) {
	c := &Cursor{LastRunID: "run-123", LastTime: 1234567890}
	decoded, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	require.Equal(t, c, decoded)
}

// ✅ nil or id-less cursor encodes to empty string
func TestCursor_Encode_Empty(t *testing.T) {
	require.Equal(t, "", EncodeCursor(nil))
	require.Equal(t, "", EncodeCursor(&Cursor{LastTime: 123}))
}

// ✅ empty string input -> first page
func TestCursor_Decode_EmptyString(t *testing.T) {
	c, err := DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestCursor_Decode_Invalid(t *testing.T) {
	_, err := DecodeCursor("%%%not-base64%%%")
	require.ErrorContains(t, err, "invalid cursor encoding")

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("not-json")))
	require.ErrorContains(t, err, "invalid cursor format")

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte(`{"ts":5}`)))
	require.ErrorContains(t, err, "missing run ID")
}
