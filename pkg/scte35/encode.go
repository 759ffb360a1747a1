package scte35

import (
	"github.com/Comcast/gots/v2"
	gotsscte35 "github.com/Comcast/gots/v2/scte35"
)

// SpliceInsertParams parameterizes a synthetic splice_insert section.
type SpliceInsertParams struct {
	PtsTime                    uint64
	Duration                   uint64
	SpliceEventID              uint32
	Tier                       uint16
	UniqueProgramID            uint16
	AvailNum                   uint8
	AvailsExpected             uint8
	SpliceEventCancelIndicator bool
	OutOfNetworkIndicator      bool
	SpliceImmediateFlag        bool
	AutoReturn                 bool
}

// CreateSpliceInsertPayload creates a SCTE-35 splice_info_section including CRC.
func CreateSpliceInsertPayload(p SpliceInsertParams) []byte {
	s := gotsscte35.CreateSCTE35()
	s.SetTier(p.Tier)
	cmd := gotsscte35.CreateSpliceInsertCommand()
	cmd.SetUniqueProgramId(p.UniqueProgramID)
	cmd.SetEventID(p.SpliceEventID)
	cmd.SetAvailNum(p.AvailNum)
	cmd.SetAvailsExpected(p.AvailsExpected)
	cmd.SetIsEventCanceled(p.SpliceEventCancelIndicator)
	if p.Duration != 0 {
		cmd.SetHasDuration(true)
		cmd.SetDuration(gots.PTS(p.Duration))
		cmd.SetIsAutoReturn(p.AutoReturn)
	}
	cmd.SetHasPTS(true)
	cmd.SetIsOut(p.OutOfNetworkIndicator)
	cmd.SetSpliceImmediate(p.SpliceImmediateFlag)
	s.SetCommandInfo(cmd)
	// The section PTS must match the command PTS, otherwise UpdateData
	// writes a compensating pts_adjustment and the splice time decodes
	// as zero.
	s.SetPTS(gots.PTS(p.PtsTime % ptsModulus))
	return s.UpdateData()
}
