package scte35

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// segmentation_upid_type values per SCTE 35 2023 Table 10.3.3.2.
const (
	UPIDTypeNotUsed      uint8 = 0x00
	UPIDTypeUserDefined  uint8 = 0x01
	UPIDTypeISCI         uint8 = 0x02
	UPIDTypeAdID         uint8 = 0x03
	UPIDTypeUMID         uint8 = 0x04
	UPIDTypeISANDeprec   uint8 = 0x05
	UPIDTypeISAN         uint8 = 0x06
	UPIDTypeTID          uint8 = 0x07
	UPIDTypeTI           uint8 = 0x08
	UPIDTypeADI          uint8 = 0x09
	UPIDTypeEIDR         uint8 = 0x0a
	UPIDTypeATSCContent  uint8 = 0x0b
	UPIDTypeMPU          uint8 = 0x0c
	UPIDTypeMID          uint8 = 0x0d
	UPIDTypeADSInfo      uint8 = 0x0e
	UPIDTypeURI          uint8 = 0x0f
	UPIDTypeUUID         uint8 = 0x10
)

// UPIDTypeName returns the standard name for a segmentation_upid_type.
func UPIDTypeName(t uint8) string {
	switch t {
	case UPIDTypeNotUsed:
		return "Not Used"
	case UPIDTypeUserDefined:
		return "User Defined"
	case UPIDTypeISCI:
		return "ISCI"
	case UPIDTypeAdID:
		return "Ad-ID"
	case UPIDTypeUMID:
		return "UMID"
	case UPIDTypeISANDeprec:
		return "ISAN (deprecated)"
	case UPIDTypeISAN:
		return "ISAN"
	case UPIDTypeTID:
		return "TID"
	case UPIDTypeTI:
		return "TI"
	case UPIDTypeADI:
		return "ADI"
	case UPIDTypeEIDR:
		return "EIDR"
	case UPIDTypeATSCContent:
		return "ATSC Content Identifier"
	case UPIDTypeMPU:
		return "MPU"
	case UPIDTypeMID:
		return "MID"
	case UPIDTypeADSInfo:
		return "ADS Information"
	case UPIDTypeURI:
		return "URI"
	case UPIDTypeUUID:
		return "UUID"
	}
	return "Unknown"
}

// FormatUPID renders a UPID as text. Types with a defined textual encoding
// (ASCII identifiers, URIs, TI counters, UUIDs) render directly; everything
// else falls back to lossless 0x-hex so no byte is dropped.
func FormatUPID(upidType uint8, upid []byte) string {
	if len(upid) == 0 {
		return ""
	}
	switch upidType {
	case UPIDTypeISCI, UPIDTypeAdID, UPIDTypeTID, UPIDTypeADI, UPIDTypeADSInfo, UPIDTypeURI:
		if isPrintableASCII(upid) {
			return string(upid)
		}
	case UPIDTypeTI:
		if len(upid) == 8 {
			return fmt.Sprintf("0x%016x", binary.BigEndian.Uint64(upid))
		}
	case UPIDTypeUUID:
		if len(upid) == 16 {
			return fmt.Sprintf("%x-%x-%x-%x-%x", upid[0:4], upid[4:6], upid[6:8], upid[8:10], upid[10:16])
		}
	case UPIDTypeEIDR:
		if len(upid) == 12 {
			// 2-byte sub-prefix plus 10-byte compact binary suffix.
			return fmt.Sprintf("10.%d/%X", binary.BigEndian.Uint16(upid[0:2]), upid[2:])
		}
	}
	return "0x" + hex.EncodeToString(upid)
}

// FormattedUPID renders the descriptor's UPID as text.
func (sd *SegmentationDescriptor) FormattedUPID() string {
	return FormatUPID(sd.UPIDType, sd.UPID)
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}
