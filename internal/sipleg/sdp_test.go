package sipleg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOfferRoundTripsThroughParseAnswer(t *testing.T) {
	body, err := BuildOffer("10.0.0.5", 20000, 3, "AMR")
	require.NoError(t, err)

	answer, err := ParseAnswer(body, "AMR")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", answer.Addr)
	assert.Equal(t, uint16(20000), answer.Port)
	assert.Equal(t, uint8(3), answer.PayloadType)
}

func TestParseAnswerCaseInsensitiveCodecMatch(t *testing.T) {
	body, err := BuildOffer("10.0.0.5", 20000, 8, "gsm-efr")
	require.NoError(t, err)

	answer, err := ParseAnswer(body, "GSM-EFR")
	require.NoError(t, err)
	assert.Equal(t, uint8(8), answer.PayloadType)
}

func TestParseAnswerRejectsMismatchedCodec(t *testing.T) {
	body, err := BuildOffer("10.0.0.5", 20000, 3, "AMR")
	require.NoError(t, err)

	_, err = ParseAnswer(body, "GSM")
	assert.Error(t, err)
}

func TestParseAnswerRejectsMalformedBody(t *testing.T) {
	_, err := ParseAnswer([]byte("not sdp"), "GSM")
	assert.Error(t, err)
}
