package types_test

import (
	"testing"

	"github.com/illmade-knight/go-imagepipeline/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageMessage_WireFieldNames(t *testing.T) {
	msg := &types.ImageMessage{
		ID:        "abc",
		Class:     types.ClassFace,
		FileName:  "/app/base-rosto/a.jpg",
		Timestamp: 1700000000000,
		ImageData: []byte{0x01, 0x02},
	}

	b, err := msg.Encode()
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"id":"abc","tipo":"face","nomeArquivo":"/app/base-rosto/a.jpg","timestamp":1700000000000,"dadosImagem":"AQI="}`,
		string(b))
}

func TestDecodeImageMessage(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expectErr bool
		expectIs  error
	}{
		{name: "valid envelope", input: `{"id":"1","tipo":"team","nomeArquivo":"x.png","timestamp":1,"dadosImagem":"AQI="}`},
		{name: "consumer-side subset with unknown fields", input: `{"nomeArquivo":"x.png","dadosImagem":"AQI=","extra":true}`},
		{name: "not json", input: `not-json`, expectErr: true},
		{name: "missing image data", input: `{"id":"1","tipo":"face"}`, expectErr: true},
		{name: "bad base64", input: `{"dadosImagem":"%%%"}`, expectErr: true},
		{name: "unknown class", input: `{"tipo":"car","dadosImagem":"AQI="}`, expectErr: true, expectIs: types.ErrUnknownClass},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := types.DecodeImageMessage([]byte(tc.input))
			if tc.expectErr {
				require.Error(t, err)
				if tc.expectIs != nil {
					assert.ErrorIs(t, err, tc.expectIs)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []byte{0x01, 0x02}, msg.ImageData)
		})
	}
}

func TestParseClass(t *testing.T) {
	c, err := types.ParseClass("face")
	require.NoError(t, err)
	assert.Equal(t, types.ClassFace, c)

	_, err = types.ParseClass("FACE")
	assert.ErrorIs(t, err, types.ErrUnknownClass)
}
