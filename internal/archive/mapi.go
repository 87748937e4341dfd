package archive

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"
)

// Storage and stream names used by Outlook compound documents.
const (
	propStreamPrefix   = "__substg1.0_"
	fixedPropsStream   = "__properties_version1.0"
	attachStoragePref  = "__attach_version1.0_#"
	recipStoragePref   = "__recip_version1.0_#"
	nameIDStorage      = "__nameid_version1.0"
	embeddedMsgStorage = "__substg1.0_3701000D"
)

// Property types
const (
	ptLong    uint16 = 0x0003
	ptSysTime uint16 = 0x0040
	ptString8 uint16 = 0x001E
	ptUnicode uint16 = 0x001F
	ptBinary  uint16 = 0x0102
)

// Property IDs
const (
	propImportance            uint16 = 0x0017
	propSubject               uint16 = 0x0037
	propClientSubmitTime      uint16 = 0x0039
	propSentRepresentingName  uint16 = 0x0042
	propSentRepresentingEmail uint16 = 0x0065
	propTransportHeaders      uint16 = 0x007D
	propSenderName            uint16 = 0x0C1A
	propSenderEmail           uint16 = 0x0C1F
	propDisplayCc             uint16 = 0x0E03
	propDisplayTo             uint16 = 0x0E04
	propDeliveryTime          uint16 = 0x0E06
	propAttachSize            uint16 = 0x0E20
	propBody                  uint16 = 0x1000
	propBodyHTML              uint16 = 0x1013
	propDisplayName           uint16 = 0x3001
	propAttachData            uint16 = 0x3701
	propAttachFilename        uint16 = 0x3704
	propAttachLongFilename    uint16 = 0x3707
	propAttachMimeTag         uint16 = 0x370E
	propSenderSMTPAddress     uint16 = 0x5D01
	propSentRepresentingSMTP  uint16 = 0x5D02
)

// parsePropStream splits "__substg1.0_IIIITTTT" into property id and type.
func parsePropStream(name string) (id, typ uint16, ok bool) {
	if !strings.HasPrefix(name, propStreamPrefix) {
		return 0, 0, false
	}
	hex := name[len(propStreamPrefix):]
	if len(hex) < 8 {
		return 0, 0, false
	}
	tag, err := strconv.ParseUint(hex[:8], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint16(tag >> 16), uint16(tag), true
}

// attachmentIndex reads the hex index from "__attach_version1.0_#0000000A".
func attachmentIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, attachStoragePref) {
		return 0, false
	}
	n, err := strconv.ParseUint(name[len(attachStoragePref):], 16, 32)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// fixedProps holds the fixed-length properties of a message or attachment.
type fixedProps struct {
	importance int32
	hasImport  bool
	delivery   time.Time
	submitted  time.Time
	attachSize int64
}

// Header length of the fixed property stream: 32 bytes for a top level
// message, 24 for a nested one and 8 for attachments and recipients. Entries
// are 16 bytes, so the stream length tells the message variants apart.
func messageHeaderLen(n int) int {
	if n >= 32 && (n-32)%16 == 0 {
		return 32
	}
	return 24
}

func parseFixedProps(data []byte, headerLen int) fixedProps {
	var fp fixedProps
	if len(data) < headerLen {
		return fp
	}
	for off := headerLen; off+16 <= len(data); off += 16 {
		tag := binary.LittleEndian.Uint32(data[off:])
		id, typ := uint16(tag>>16), uint16(tag)
		value := data[off+8 : off+16]

		switch {
		case id == propImportance && typ == ptLong:
			fp.importance = int32(binary.LittleEndian.Uint32(value))
			fp.hasImport = true
		case id == propDeliveryTime && typ == ptSysTime:
			fp.delivery = filetime(binary.LittleEndian.Uint64(value))
		case id == propClientSubmitTime && typ == ptSysTime:
			fp.submitted = filetime(binary.LittleEndian.Uint64(value))
		case id == propAttachSize && typ == ptLong:
			fp.attachSize = int64(binary.LittleEndian.Uint32(value))
		}
	}
	return fp
}

// filetimeEpochDelta is the number of 100ns intervals between 1601-01-01 and 1970-01-01.
const filetimeEpochDelta = 116444736000000000

func filetime(ft uint64) time.Time {
	if ft <= filetimeEpochDelta {
		return time.Time{}
	}
	return time.Unix(0, int64(ft-filetimeEpochDelta)*100).UTC()
}
