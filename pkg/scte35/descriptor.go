package scte35

const (
	// SegmentationDescriptorTag is the splice_descriptor_tag for
	// segmentation_descriptor.
	SegmentationDescriptorTag uint8 = 0x02

	// CUEIdentifier is the ASCII "CUEI" descriptor identifier.
	CUEIdentifier uint32 = 0x43554549
)

// Segmentation type ids per SCTE 35 2023 Table 10.3.3.1.
const (
	SegTypeNotIndicated            uint8 = 0x00
	SegTypeContentIdentification   uint8 = 0x01
	SegTypeProgramStart            uint8 = 0x10
	SegTypeProgramEnd              uint8 = 0x11
	SegTypeProgramEarlyTermination uint8 = 0x12
	SegTypeProgramBreakaway        uint8 = 0x13
	SegTypeProgramResumption       uint8 = 0x14
	SegTypeProgramRunoverPlanned   uint8 = 0x15
	SegTypeProgramRunoverUnplanned uint8 = 0x16
	SegTypeProgramOverlapStart     uint8 = 0x17
	SegTypeProgramBlackoutOverride uint8 = 0x18
	SegTypeProgramStartInProgress  uint8 = 0x19
	SegTypeChapterStart            uint8 = 0x20
	SegTypeChapterEnd              uint8 = 0x21
	SegTypeBreakStart              uint8 = 0x22
	SegTypeBreakEnd                uint8 = 0x23
	SegTypeOpeningCreditStart      uint8 = 0x24
	SegTypeOpeningCreditEnd        uint8 = 0x25
	SegTypeClosingCreditStart      uint8 = 0x26
	SegTypeClosingCreditEnd        uint8 = 0x27
	SegTypeProviderAdStart         uint8 = 0x30
	SegTypeProviderAdEnd           uint8 = 0x31
	SegTypeDistributorAdStart      uint8 = 0x32
	SegTypeDistributorAdEnd        uint8 = 0x33
	SegTypeProviderPOStart         uint8 = 0x34
	SegTypeProviderPOEnd           uint8 = 0x35
	SegTypeDistributorPOStart      uint8 = 0x36
	SegTypeDistributorPOEnd        uint8 = 0x37
	SegTypeProviderOverlayPOStart  uint8 = 0x38
	SegTypeProviderOverlayPOEnd    uint8 = 0x39
	SegTypeDistribOverlayPOStart   uint8 = 0x3a
	SegTypeDistribOverlayPOEnd     uint8 = 0x3b
	SegTypeProviderPromoStart      uint8 = 0x3c
	SegTypeProviderPromoEnd        uint8 = 0x3d
	SegTypeDistributorPromoStart   uint8 = 0x3e
	SegTypeDistributorPromoEnd     uint8 = 0x3f
	SegTypeUnscheduledEventStart   uint8 = 0x40
	SegTypeUnscheduledEventEnd     uint8 = 0x41
	SegTypeAltConOppStart          uint8 = 0x42
	SegTypeAltConOppEnd            uint8 = 0x43
	SegTypeProviderAdBlockStart    uint8 = 0x44
	SegTypeProviderAdBlockEnd      uint8 = 0x45
	SegTypeDistributorAdBlockStart uint8 = 0x46
	SegTypeDistributorAdBlockEnd   uint8 = 0x47
	SegTypeNetworkStart            uint8 = 0x50
	SegTypeNetworkEnd              uint8 = 0x51
)

var segTypeNames = map[uint8]string{
	SegTypeNotIndicated:            "Not Indicated",
	SegTypeContentIdentification:   "Content Identification",
	SegTypeProgramStart:            "Program Start",
	SegTypeProgramEnd:              "Program End",
	SegTypeProgramEarlyTermination: "Program Early Termination",
	SegTypeProgramBreakaway:        "Program Breakaway",
	SegTypeProgramResumption:       "Program Resumption",
	SegTypeProgramRunoverPlanned:   "Program Runover Planned",
	SegTypeProgramRunoverUnplanned: "Program Runover Unplanned",
	SegTypeProgramOverlapStart:     "Program Overlap Start",
	SegTypeProgramBlackoutOverride: "Program Blackout Override",
	SegTypeProgramStartInProgress:  "Program Start - In Progress",
	SegTypeChapterStart:            "Chapter Start",
	SegTypeChapterEnd:              "Chapter End",
	SegTypeBreakStart:              "Break Start",
	SegTypeBreakEnd:                "Break End",
	SegTypeOpeningCreditStart:      "Opening Credit Start",
	SegTypeOpeningCreditEnd:        "Opening Credit End",
	SegTypeClosingCreditStart:      "Closing Credit Start",
	SegTypeClosingCreditEnd:        "Closing Credit End",
	SegTypeProviderAdStart:         "Provider Advertisement Start",
	SegTypeProviderAdEnd:           "Provider Advertisement End",
	SegTypeDistributorAdStart:      "Distributor Advertisement Start",
	SegTypeDistributorAdEnd:        "Distributor Advertisement End",
	SegTypeProviderPOStart:         "Provider Placement Opportunity Start",
	SegTypeProviderPOEnd:           "Provider Placement Opportunity End",
	SegTypeDistributorPOStart:      "Distributor Placement Opportunity Start",
	SegTypeDistributorPOEnd:        "Distributor Placement Opportunity End",
	SegTypeProviderOverlayPOStart:  "Provider Overlay Placement Opportunity Start",
	SegTypeProviderOverlayPOEnd:    "Provider Overlay Placement Opportunity End",
	SegTypeDistribOverlayPOStart:   "Distributor Overlay Placement Opportunity Start",
	SegTypeDistribOverlayPOEnd:     "Distributor Overlay Placement Opportunity End",
	SegTypeProviderPromoStart:      "Provider Promo Start",
	SegTypeProviderPromoEnd:        "Provider Promo End",
	SegTypeDistributorPromoStart:   "Distributor Promo Start",
	SegTypeDistributorPromoEnd:     "Distributor Promo End",
	SegTypeUnscheduledEventStart:   "Unscheduled Event Start",
	SegTypeUnscheduledEventEnd:     "Unscheduled Event End",
	SegTypeAltConOppStart:          "Alternate Content Opportunity Start",
	SegTypeAltConOppEnd:            "Alternate Content Opportunity End",
	SegTypeProviderAdBlockStart:    "Provider Ad Block Start",
	SegTypeProviderAdBlockEnd:      "Provider Ad Block End",
	SegTypeDistributorAdBlockStart: "Distributor Ad Block Start",
	SegTypeDistributorAdBlockEnd:   "Distributor Ad Block End",
	SegTypeNetworkStart:            "Network Start",
	SegTypeNetworkEnd:              "Network End",
}

// SegmentationTypeName returns the standard name for a segmentation type id.
func SegmentationTypeName(id uint8) string {
	if name, ok := segTypeNames[id]; ok {
		return name
	}
	return "Unknown"
}

// SpliceDescriptor is one entry of the descriptor loop.
type SpliceDescriptor interface {
	Tag() uint8
}

// RawDescriptor preserves a descriptor whose identifier is not "CUEI" or
// whose tag is not decoded here.
type RawDescriptor struct {
	DescriptorTag uint8
	Identifier    uint32
	Data          []byte
}

func (rd *RawDescriptor) Tag() uint8 { return rd.DescriptorTag }

// DeliveryRestrictions of a segmentation_descriptor.
type DeliveryRestrictions struct {
	WebDeliveryAllowed bool
	NoRegionalBlackout bool
	ArchiveAllowed     bool
	DeviceRestrictions uint8
}

// SegmentationDescriptor per SCTE 35 2023 section 10.3.3.
type SegmentationDescriptor struct {
	SegmentationEventID  uint32
	EventCancelIndicator bool
	ProgramSegmentation  bool
	DeliveryRestrictions *DeliveryRestrictions
	SegmentationDuration *uint64
	UPIDType             uint8
	UPID                 []byte
	SegmentationTypeID   uint8
	SegmentNum           uint8
	SegmentsExpected     uint8
	SubSegmentNum        uint8
	SubSegmentsExpected  uint8
}

func (sd *SegmentationDescriptor) Tag() uint8 { return SegmentationDescriptorTag }

// TypeName returns the Table 10.3.3.1 name of the segmentation type.
func (sd *SegmentationDescriptor) TypeName() string {
	return SegmentationTypeName(sd.SegmentationTypeID)
}

// DurationSeconds returns the segmentation duration in seconds, or 0.
func (sd *SegmentationDescriptor) DurationSeconds() float64 {
	if sd.SegmentationDuration == nil {
		return 0
	}
	return float64(*sd.SegmentationDuration) / 90000.0
}

func (sd *SegmentationDescriptor) decode(data []byte) error {
	// data starts at the descriptor body (after tag, length, identifier).
	r := newBitReader(data)
	sd.SegmentationEventID = r.readUint32(32)
	sd.EventCancelIndicator = r.readBit()
	r.skip(7) // reserved
	if !sd.EventCancelIndicator {
		sd.ProgramSegmentation = r.readBit()
		durationFlag := r.readBit()
		deliveryNotRestricted := r.readBit()
		if !deliveryNotRestricted {
			dr := DeliveryRestrictions{}
			dr.WebDeliveryAllowed = r.readBit()
			dr.NoRegionalBlackout = r.readBit()
			dr.ArchiveAllowed = r.readBit()
			dr.DeviceRestrictions = r.readUint8(2)
			sd.DeliveryRestrictions = &dr
		} else {
			r.skip(5) // reserved
		}
		if !sd.ProgramSegmentation {
			componentCount := int(r.readUint8(8))
			for i := 0; i < componentCount; i++ {
				r.skip(8)  // component_tag
				r.skip(7)  // reserved
				r.skip(33) // pts_offset
			}
		}
		if durationFlag {
			d := r.readUint64(40)
			sd.SegmentationDuration = &d
		}
		sd.UPIDType = r.readUint8(8)
		upidLength := int(r.readUint8(8))
		sd.UPID = r.readBytes(upidLength)
		sd.SegmentationTypeID = r.readUint8(8)
		sd.SegmentNum = r.readUint8(8)
		sd.SegmentsExpected = r.readUint8(8)
		switch sd.SegmentationTypeID {
		case 0x34, 0x36, 0x38, 0x3a, 0x44, 0x46:
			// Sub-segment fields are present for these types when bytes remain.
			if r.bitPos+16 <= len(data)*8 {
				sd.SubSegmentNum = r.readUint8(8)
				sd.SubSegmentsExpected = r.readUint8(8)
			}
		}
	}
	if r.overflow {
		return ErrTruncated
	}
	return nil
}

func decodeDescriptors(data []byte) []SpliceDescriptor {
	var descs []SpliceDescriptor
	offset := 0
	for offset+2 <= len(data) {
		tag := data[offset]
		length := int(data[offset+1])
		end := offset + 2 + length
		if end > len(data) {
			break
		}
		body := data[offset+2 : end]
		if length >= 4 {
			identifier := uint32(body[0])<<24 | uint32(body[1])<<16 |
				uint32(body[2])<<8 | uint32(body[3])
			if tag == SegmentationDescriptorTag && identifier == CUEIdentifier {
				sd := &SegmentationDescriptor{}
				if err := sd.decode(body[4:]); err == nil {
					descs = append(descs, sd)
					offset = end
					continue
				}
			}
			descs = append(descs, &RawDescriptor{
				DescriptorTag: tag,
				Identifier:    identifier,
				Data:          append([]byte(nil), body[4:]...),
			})
		} else {
			descs = append(descs, &RawDescriptor{DescriptorTag: tag, Data: append([]byte(nil), body...)})
		}
		offset = end
	}
	return descs
}
