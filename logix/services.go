package logix

// CIP common services used against Logix controllers.
const (
	ServiceGetAttributeSingle byte = 0x0E
	ServiceNop                byte = 0x17 // keepalive, no state change
)

// Logix vendor services. These are Rockwell extensions to CIP, not part
// of the common service set.
const (
	ServiceReadTag             byte = 0x4C
	ServiceWriteTag            byte = 0x4D
	ServiceReadModifyWriteTag  byte = 0x4E
	ServiceReadTagFragmented   byte = 0x52
	ServiceWriteTagFragmented  byte = 0x53
	ServiceGetInstanceAttrList byte = 0x55 // tag browsing on the Symbol Object
)

// Symbol Object class, the controller's tag directory.
const ClassSymbolObject uint16 = 0x6B

// Identity object, the keepalive target.
const ClassIdentity uint16 = 0x01

// CIP general status codes.
const (
	StatusSuccess           byte = 0x00
	StatusPathSegmentError  byte = 0x04
	StatusPathUnknown       byte = 0x05
	StatusPartialTransfer   byte = 0x06 // more data available, not a failure
	StatusServiceNotSupport byte = 0x08
	StatusInvalidAttrValue  byte = 0x09
	StatusAlreadyInState    byte = 0x0A
	StatusObjectStateConfl  byte = 0x0C
	StatusAttrNotSettable   byte = 0x0E
	StatusPrivilegeViolated byte = 0x0F
	StatusDeviceStateConfl  byte = 0x10
	StatusReplyDataTooLarge byte = 0x11
	StatusNotEnoughData     byte = 0x13
	StatusAttrNotSupported  byte = 0x14
	StatusTooMuchData       byte = 0x15
	StatusObjectNotExist    byte = 0x16
	StatusEmbeddedError     byte = 0x1E // one or more packed services failed
	StatusGeneralError      byte = 0xFF // detail in the extended words
)

// Logix extended status codes, carried when the general status is 0xFF.
const (
	ExtIllegalType  uint16 = 0x2101 // service not applicable to the tag's type
	ExtTagNotFound  uint16 = 0x2104
	ExtTagReadOnly  uint16 = 0x2105
	ExtSizeTooSmall uint16 = 0x2107
	ExtSizeTooLarge uint16 = 0x2108
	ExtBadOffset    uint16 = 0x2109
)
