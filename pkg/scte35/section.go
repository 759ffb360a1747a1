// Package scte35 decodes SCTE-35 splice_info_sections per ANSI/SCTE 35 2023.
// The command types and descriptors used for live ad signalling are decoded
// fully (splice_insert, time_signal, segmentation_descriptor); everything
// else is retained as opaque bytes.
package scte35

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// TableID is the MPEG-2 table_id of a splice_info_section.
	TableID = 0xFC

	SpliceNullType   uint8 = 0x00
	SpliceInsertType uint8 = 0x05
	TimeSignalType   uint8 = 0x06

	ptsModulus = uint64(1) << 33
)

var (
	ErrNoTableID = errors.New("scte35: table_id 0xFC not found")
	ErrTruncated = errors.New("scte35: section truncated")
)

// SpliceCommand is implemented by the decoded splice command variants.
type SpliceCommand interface {
	Type() uint8
	decode(data []byte) error
}

// SpliceTime carries an optional 33-bit PTS at the 90 kHz clock.
type SpliceTime struct {
	PTS *uint64
}

// BreakDuration is the planned duration of a commercial break.
type BreakDuration struct {
	AutoReturn bool
	Duration   uint64
}

// Seconds returns the break duration in seconds.
func (bd BreakDuration) Seconds() float64 {
	return float64(bd.Duration) / 90000.0
}

// SpliceInfoSection is a decoded splice_info_section.
//
// A section with a failed CRC or unknown command still decodes as far as
// possible; callers check CRCValid before trusting the payload.
type SpliceInfoSection struct {
	SAPType             uint8
	ProtocolVersion     uint8
	EncryptedPacket     bool
	EncryptionAlgorithm uint8
	PTSAdjustment       uint64
	CWIndex             uint8
	Tier                uint16
	CommandType         uint8
	Command             SpliceCommand
	Descriptors         []SpliceDescriptor
	CRCValid            bool
}

// DecodeBase64 decodes a base64-encoded splice_info_section.
func DecodeBase64(s string) (*SpliceInfoSection, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("scte35: base64: %w", err)
	}
	return Decode(data)
}

// Decode decodes a binary splice_info_section. If the first byte is not
// 0xFC the first 16 bytes are scanned for the effective section start,
// since some encoders prepend wrapper bytes.
func Decode(data []byte) (*SpliceInfoSection, error) {
	if len(data) == 0 || data[0] != TableID {
		limit := len(data)
		if limit > 16 {
			limit = 16
		}
		idx := bytes.IndexByte(data[:limit], TableID)
		if idx < 0 {
			return nil, ErrNoTableID
		}
		data = data[idx:]
	}
	sis := &SpliceInfoSection{}
	if err := sis.decode(data); err != nil {
		return sis, err
	}
	return sis, nil
}

func (sis *SpliceInfoSection) decode(data []byte) error {
	sis.CRCValid = checkCRC32(data)

	r := newBitReader(data)
	r.skip(8) // table_id
	r.skip(1) // section_syntax_indicator
	r.skip(1) // private_indicator
	sis.SAPType = r.readUint8(2)
	sectionLength := int(r.readUint16(12))
	if 3+sectionLength > len(data) {
		return ErrTruncated
	}

	sis.ProtocolVersion = r.readUint8(8)
	sis.EncryptedPacket = r.readBit()
	sis.EncryptionAlgorithm = r.readUint8(6)
	sis.PTSAdjustment = r.readUint64(33)
	sis.CWIndex = r.readUint8(8)
	sis.Tier = r.readUint16(12)

	spliceCommandLength := int(r.readUint16(12))
	sis.CommandType = r.readUint8(8)

	if sis.EncryptedPacket {
		// The command and descriptor loops are ciphertext. Return the
		// header so callers can at least log the tier and command type.
		return nil
	}

	if spliceCommandLength == 0xFFF {
		// Legacy encoders put all ones here. The remaining section bytes
		// minus the descriptor loop and CRC hold the command; decode it to
		// learn its length.
		remaining := 3 + sectionLength - (r.bitPos / 8) - 4
		if remaining < 0 {
			return ErrTruncated
		}
		raw := r.readBytes(remaining)
		cmd, n, err := decodeCommand(sis.CommandType, raw)
		if err != nil {
			return err
		}
		sis.Command = cmd
		if n+2 <= len(raw) {
			loopLen := int(raw[n])<<8 | int(raw[n+1])
			descData := raw[n+2:]
			if loopLen > 0 && loopLen <= len(descData) {
				sis.Descriptors = decodeDescriptors(descData[:loopLen])
			}
		}
	} else {
		cmdData := r.readBytes(spliceCommandLength)
		cmd, _, err := decodeCommand(sis.CommandType, cmdData)
		if err != nil {
			return err
		}
		sis.Command = cmd

		loopLen := int(r.readUint16(16))
		if loopLen > 0 {
			descData := r.readBytes(loopLen)
			if r.overflow {
				return ErrTruncated
			}
			sis.Descriptors = decodeDescriptors(descData)
		}
	}
	if r.overflow {
		return ErrTruncated
	}

	sis.applyPTSAdjustment()
	return nil
}

// applyPTSAdjustment folds pts_adjustment into every splice_time,
// mod 2^33, as mandated for downstream consumers.
func (sis *SpliceInfoSection) applyPTSAdjustment() {
	if sis.PTSAdjustment == 0 {
		return
	}
	adjust := func(st *SpliceTime) {
		if st.PTS != nil {
			v := (*st.PTS + sis.PTSAdjustment) % ptsModulus
			st.PTS = &v
		}
	}
	switch cmd := sis.Command.(type) {
	case *SpliceInsert:
		adjust(&cmd.SpliceTime)
	case *TimeSignal:
		adjust(&cmd.SpliceTime)
	}
}

// PTS returns the adjusted splice PTS carried by the command, if any.
func (sis *SpliceInfoSection) PTS() (uint64, bool) {
	switch cmd := sis.Command.(type) {
	case *SpliceInsert:
		if cmd.SpliceTime.PTS != nil {
			return *cmd.SpliceTime.PTS, true
		}
	case *TimeSignal:
		if cmd.SpliceTime.PTS != nil {
			return *cmd.SpliceTime.PTS, true
		}
	}
	return 0, false
}

// SegmentationDescriptors returns the CUEI segmentation descriptors.
func (sis *SpliceInfoSection) SegmentationDescriptors() []*SegmentationDescriptor {
	var out []*SegmentationDescriptor
	for _, d := range sis.Descriptors {
		if sd, ok := d.(*SegmentationDescriptor); ok {
			out = append(out, sd)
		}
	}
	return out
}

func decodeCommand(cmdType uint8, data []byte) (SpliceCommand, int, error) {
	var cmd SpliceCommand
	switch cmdType {
	case SpliceNullType:
		cmd = &SpliceNull{}
	case SpliceInsertType:
		cmd = &SpliceInsert{}
	case TimeSignalType:
		cmd = &TimeSignal{}
	default:
		// Unknown commands are kept opaque rather than failing the section.
		cmd = &RawCommand{CommandType: cmdType, Data: append([]byte(nil), data...)}
	}
	if err := cmd.decode(data); err != nil {
		return cmd, 0, fmt.Errorf("scte35: command 0x%02X: %w", cmdType, err)
	}
	return cmd, commandLength(cmd, data), nil
}

func commandLength(cmd SpliceCommand, data []byte) int {
	switch c := cmd.(type) {
	case *SpliceNull:
		return 0
	case *SpliceInsert:
		return c.length()
	case *TimeSignal:
		return c.length()
	case *RawCommand:
		return len(c.Data)
	}
	return len(data)
}

// SpliceNull is the splice_null command.
type SpliceNull struct{}

func (cmd *SpliceNull) Type() uint8             { return SpliceNullType }
func (cmd *SpliceNull) decode(data []byte) error { return nil }

// RawCommand preserves an unrecognised splice command.
type RawCommand struct {
	CommandType uint8
	Data        []byte
}

func (cmd *RawCommand) Type() uint8             { return cmd.CommandType }
func (cmd *RawCommand) decode(data []byte) error { return nil }
