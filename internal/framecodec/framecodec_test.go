package framecodec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct {
	Kind string `json:"kind"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(ping{Kind: "ping"})
	require.NoError(t, err)
	require.True(t, bytes.HasSuffix(frame, []byte("\n")))

	var got ping
	require.NoError(t, Decode(bytes.NewReader(frame), 0, &got))
	require.Equal(t, "ping", got.Kind)
}

func TestReadFrameOversize(t *testing.T) {
	huge := strings.Repeat("a", 64) // no newline, exceeds tiny cap
	d := NewDecoder(strings.NewReader(huge), 16)
	_, err := d.ReadFrame()
	require.ErrorIs(t, err, ErrFrameOversize)
}

func TestDecodeInvalidJSON(t *testing.T) {
	err := Decode(strings.NewReader("not json\n"), 0, &ping{})
	require.ErrorIs(t, err, ErrFrameInvalidJSON)
}

func TestReadFrameDiscardsTrailingBytesForCaller(t *testing.T) {
	d := NewDecoder(strings.NewReader("{\"kind\":\"a\"}\ntrailing-garbage"), 0)
	frame, err := d.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, `{"kind":"a"}`, string(frame))
}
