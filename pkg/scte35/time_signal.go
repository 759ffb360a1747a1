package scte35

// TimeSignal is the time_signal command (type 0x06). Its meaning comes
// from the segmentation descriptors that accompany it.
type TimeSignal struct {
	SpliceTime SpliceTime
}

func (cmd *TimeSignal) Type() uint8 { return TimeSignalType }

func (cmd *TimeSignal) decode(data []byte) error {
	r := newBitReader(data)
	cmd.SpliceTime = readSpliceTime(r)
	if r.overflow {
		return ErrTruncated
	}
	return nil
}

func (cmd *TimeSignal) length() int {
	return spliceTimeBits(cmd.SpliceTime) / 8
}
