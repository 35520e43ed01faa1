package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase64Raw = "this\xffis\xffa\xfftest"

func TestDecodeBase64Alphabets(t *testing.T) {
	for name, input := range map[string]string{
		"standard": "dGhpc/9pc/9h/3Rlc3Q",
		"url_safe": "dGhpc_9pc_9h_3Rlc3Q",
		"padded":   "dGhpc/9pc/9h/3Rlc3Q=",
	} {
		t.Run(name, func(t *testing.T) {
			var got Base64Bytes
			require.NoError(t, got.Decode(input))
			assert.Equal(t, testBase64Raw, string(got))
		})
	}
}

func TestBase64RoundTrip(t *testing.T) {
	encoded := Base64Bytes(testBase64Raw).Encode()
	assert.Equal(t, "dGhpc/9pc/9h/3Rlc3Q", encoded)
	var decoded Base64Bytes
	require.NoError(t, decoded.Decode(encoded))
	assert.Equal(t, testBase64Raw, string(decoded))
}

func TestDecodeBase64Invalid(t *testing.T) {
	var got Base64Bytes
	assert.Error(t, got.Decode("not base64!"))
}
