package scte35

// SpliceInsert is the splice_insert command (type 0x05).
type SpliceInsert struct {
	SpliceEventID              uint32
	SpliceEventCancelIndicator bool
	OutOfNetworkIndicator      bool
	ProgramSpliceFlag          bool
	SpliceImmediateFlag        bool
	SpliceTime                 SpliceTime
	Components                 []SpliceInsertComponent
	BreakDuration              *BreakDuration
	UniqueProgramID            uint16
	AvailNum                   uint8
	AvailsExpected             uint8
}

// SpliceInsertComponent is one elementary-stream splice point in
// component splice mode.
type SpliceInsertComponent struct {
	Tag        uint8
	SpliceTime SpliceTime
}

func (cmd *SpliceInsert) Type() uint8 { return SpliceInsertType }

func (cmd *SpliceInsert) decode(data []byte) error {
	r := newBitReader(data)
	cmd.SpliceEventID = r.readUint32(32)
	cmd.SpliceEventCancelIndicator = r.readBit()
	r.skip(7) // reserved

	if !cmd.SpliceEventCancelIndicator {
		cmd.OutOfNetworkIndicator = r.readBit()
		cmd.ProgramSpliceFlag = r.readBit()
		durationFlag := r.readBit()
		cmd.SpliceImmediateFlag = r.readBit()
		r.skip(4) // reserved

		if cmd.ProgramSpliceFlag {
			if !cmd.SpliceImmediateFlag {
				cmd.SpliceTime = readSpliceTime(r)
			}
		} else {
			componentCount := int(r.readUint8(8))
			for i := 0; i < componentCount; i++ {
				c := SpliceInsertComponent{Tag: r.readUint8(8)}
				if !cmd.SpliceImmediateFlag {
					c.SpliceTime = readSpliceTime(r)
				}
				cmd.Components = append(cmd.Components, c)
			}
		}

		if durationFlag {
			bd := BreakDuration{}
			bd.AutoReturn = r.readBit()
			r.skip(6) // reserved
			bd.Duration = r.readUint64(33)
			cmd.BreakDuration = &bd
		}
		cmd.UniqueProgramID = r.readUint16(16)
		cmd.AvailNum = r.readUint8(8)
		cmd.AvailsExpected = r.readUint8(8)
	}
	if r.overflow {
		return ErrTruncated
	}
	return nil
}

func (cmd *SpliceInsert) length() int {
	bits := 32 + 1 + 7
	if !cmd.SpliceEventCancelIndicator {
		bits += 4 + 4
		if cmd.ProgramSpliceFlag {
			if !cmd.SpliceImmediateFlag {
				bits += spliceTimeBits(cmd.SpliceTime)
			}
		} else {
			bits += 8
			for _, c := range cmd.Components {
				bits += 8
				if !cmd.SpliceImmediateFlag {
					bits += spliceTimeBits(c.SpliceTime)
				}
			}
		}
		if cmd.BreakDuration != nil {
			bits += 1 + 6 + 33
		}
		bits += 16 + 8 + 8
	}
	return bits / 8
}

func readSpliceTime(r *bitReader) SpliceTime {
	var st SpliceTime
	if r.readBit() { // time_specified_flag
		r.skip(6) // reserved
		pts := r.readUint64(33)
		st.PTS = &pts
	} else {
		r.skip(7) // reserved
	}
	return st
}

func spliceTimeBits(st SpliceTime) int {
	if st.PTS != nil {
		return 1 + 6 + 33
	}
	return 1 + 7
}
