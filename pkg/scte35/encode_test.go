package scte35

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSpliceInsertPayloadDecodes(t *testing.T) {
	data := CreateSpliceInsertPayload(SpliceInsertParams{
		PtsTime:               270000,
		Duration:              8 * 90000,
		SpliceEventID:         77,
		Tier:                  4095,
		OutOfNetworkIndicator: true,
		AutoReturn:            true,
	})
	sis, err := Decode(data)
	require.NoError(t, err)
	require.True(t, sis.CRCValid)
	require.Equal(t, SpliceInsertType, sis.CommandType)
	// The synthetic section carries the splice time in the command, not
	// smeared into pts_adjustment.
	require.Zero(t, sis.PTSAdjustment)
	si, ok := sis.Command.(*SpliceInsert)
	require.True(t, ok)
	require.Equal(t, uint32(77), si.SpliceEventID)
	require.True(t, si.OutOfNetworkIndicator)
	pts, ok := sis.PTS()
	require.True(t, ok)
	require.Equal(t, uint64(270000), pts)
	require.NotNil(t, si.BreakDuration)
	require.True(t, si.BreakDuration.AutoReturn)
	require.Equal(t, 8.0, si.BreakDuration.Seconds())
}
