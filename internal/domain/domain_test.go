package domain

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("alice")
	require.NoError(t, err)
	assert.Equal(t, Identity("alice"), id)

	_, err = ParseIdentity("")
	assert.ErrorIs(t, err, ErrIdentityEmpty)

	_, err = ParseIdentity(strings.Repeat("a", MaxIdentityLen+1))
	assert.ErrorIs(t, err, ErrIdentityTooLong)
}

func TestProducerKindMediaKind(t *testing.T) {
	assert.Equal(t, webrtc.RTPCodecTypeVideo, ProducerVideo.MediaKind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, ProducerScreenVideo.MediaKind())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, ProducerAudio.MediaKind())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, ProducerScreenAudio.MediaKind())
}

func TestParseProducerKind(t *testing.T) {
	k, err := ParseProducerKind("screen-audio")
	require.NoError(t, err)
	assert.Equal(t, ProducerScreenAudio, k)

	_, err = ParseProducerKind("hologram")
	assert.Error(t, err)
}

func TestNewMeetingIDUnique(t *testing.T) {
	assert.NotEqual(t, NewMeetingID(), NewMeetingID())
}
