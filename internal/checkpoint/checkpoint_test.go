package checkpoint

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hadi77ir/go-mongosh/command"
)

func token(t *testing.T, data string) []byte {
	raw, err := bson.Marshal(bson.D{{Key: "_data", Value: data}})
	require.NoError(t, err)
	return raw
}

func TestCheckpoint_EncodeAndDecode(t *testing.T) {
	tests := []struct {
		name string
		cp   *Checkpoint
	}{
		{
			name: "token only",
			cp:   &Checkpoint{ResumeToken: token(t, "8263A1")},
		},
		{
			name: "with delivered count",
			cp:   &Checkpoint{ResumeToken: token(t, "8263A2"), Delivered: 3},
		},
		{
			name: "with namespace",
			cp:   &Checkpoint{ResumeToken: token(t, "8263A3"), Delivered: 42, Namespace: "shop.orders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.cp)
			require.NoError(t, err)
			assert.NotEmpty(t, encoded)
			assert.NotContains(t, encoded, "=")

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.cp.ResumeToken, decoded.ResumeToken)
			assert.Equal(t, tt.cp.Delivered, decoded.Delivered)
			assert.Equal(t, tt.cp.Namespace, decoded.Namespace)

			data, err := decoded.Token().LookupErr("_data")
			require.NoError(t, err)
			assert.Equal(t, bson.Raw(tt.cp.ResumeToken).Lookup("_data").StringValue(), data.StringValue())
		})
	}
}

func TestCheckpoint_EncodeEmpty(t *testing.T) {
	encoded, err := Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, encoded)

	encoded, err = Encode(&Checkpoint{Delivered: 5})
	require.NoError(t, err)
	assert.Empty(t, encoded)
}

func TestCheckpoint_DecodeInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "not base64", input: "!!!not-base64!!!"},
		{name: "not cbor", input: base64.RawURLEncoding.EncodeToString([]byte{0xff, 0xff, 0xff})},
		{name: "token not bson", input: mustEncodeRaw(t, &Checkpoint{ResumeToken: []byte{1, 2, 3}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, command.ErrInvalidCheckpoint)
		})
	}
}

func mustEncodeRaw(t *testing.T, c *Checkpoint) string {
	encoded, err := Encode(c)
	require.NoError(t, err)
	return encoded
}
