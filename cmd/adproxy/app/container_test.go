package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContainerProfileMatches(t *testing.T) {
	a := &ContainerProfile{Codec: "avc1", Timescale: 90000}
	require.True(t, a.Matches(&ContainerProfile{Codec: "avc1", Timescale: 90000}))
	require.False(t, a.Matches(&ContainerProfile{Codec: "hvc1", Timescale: 90000}))
	require.False(t, a.Matches(&ContainerProfile{Codec: "avc1", Timescale: 48000}))
	require.False(t, a.Matches(nil))
	var nilProfile *ContainerProfile
	require.False(t, nilProfile.Matches(a))
}

func TestContainerMatcherFailureClosed(t *testing.T) {
	failing := newContainerMatcher(func(ctx context.Context, url string) ([]byte, error) {
		return nil, fmt.Errorf("unreachable")
	})
	require.False(t, failing.Match(context.Background(), "https://o/init.mp4", "https://a/init.mp4"))

	garbage := newContainerMatcher(func(ctx context.Context, url string) ([]byte, error) {
		return []byte("not an mp4"), nil
	})
	require.False(t, garbage.Match(context.Background(), "https://o/init.mp4", "https://a/init.mp4"))

	m := newContainerMatcher(nil)
	require.False(t, m.Match(context.Background(), "", "https://a/init.mp4"))
	require.False(t, m.Match(context.Background(), "https://o/init.mp4", ""))
}

func TestProfileFromInitSegmentRejectsGarbage(t *testing.T) {
	_, err := ProfileFromInitSegment([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}
