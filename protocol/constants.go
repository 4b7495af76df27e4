// Package protocol
// Author: momentics <momentics@gmail.com>
//
// AJP13 wire protocol constants

package protocol

const (
	// Packet framing
	HeaderLength  = 4    // magic(2) + payload length(2)
	MaxPacketSize = 8192 // default buffer capacity, header included
	MinPacketSize = 16

	// ReadHeadLength is the header plus the chunk length of an incoming
	// body message.
	ReadHeadLength = HeaderLength + 2
	// SendHeadLength is the header, the type byte, the chunk length and
	// the trailing terminator of an outgoing SEND_BODY_CHUNK.
	SendHeadLength = HeaderLength + 4

	MaxReadSize = MaxPacketSize - ReadHeadLength
	MaxSendSize = MaxPacketSize - SendHeadLength

	// Magic bytes
	MagicToContainer   = 0x1234 // web server -> container
	MagicFromContainer = 0x4142 // "AB", container -> web server

	// NullStringLength marks an absent string on the wire.
	NullStringLength = 0xFFFF
)

// MessageType is the leading control byte of a payload.
type MessageType byte

const (
	TypeForwardRequest MessageType = 2
	TypeSendBodyChunk  MessageType = 3
	TypeSendHeaders    MessageType = 4
	TypeEndResponse    MessageType = 5
	TypeGetBodyChunk   MessageType = 6
	TypeShutdown       MessageType = 7
	TypePing           MessageType = 8
	TypeCPongReply     MessageType = 9
	TypeCPingRequest   MessageType = 10
)

func (t MessageType) String() string {
	switch t {
	case TypeForwardRequest:
		return "FORWARD_REQUEST"
	case TypeSendBodyChunk:
		return "SEND_BODY_CHUNK"
	case TypeSendHeaders:
		return "SEND_HEADERS"
	case TypeEndResponse:
		return "END_RESPONSE"
	case TypeGetBodyChunk:
		return "GET_BODY_CHUNK"
	case TypeShutdown:
		return "SHUTDOWN"
	case TypePing:
		return "PING"
	case TypeCPongReply:
		return "CPONG_REPLY"
	case TypeCPingRequest:
		return "CPING_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// Attribute is the code of a typed attribute record following the header
// block of a FORWARD_REQUEST.
type Attribute byte

const (
	AttrUnknown      Attribute = 0x00
	AttrContext      Attribute = 0x01
	AttrServletPath  Attribute = 0x02
	AttrRemoteUser   Attribute = 0x03
	AttrAuthType     Attribute = 0x04
	AttrQueryString  Attribute = 0x05
	AttrJvmRoute     Attribute = 0x06
	AttrSSLCert      Attribute = 0x07
	AttrSSLCipher    Attribute = 0x08
	AttrSSLSession   Attribute = 0x09
	AttrReqAttribute Attribute = 0x0A
	AttrSSLKeySize   Attribute = 0x0B
	AttrSecret       Attribute = 0x0C
	AttrStoredMethod Attribute = 0x0D
	AttrAreDone      Attribute = 0xFF
)

// ParseAttribute maps a raw code to a known Attribute, or AttrUnknown.
func ParseAttribute(code byte) Attribute {
	switch a := Attribute(code); a {
	case AttrContext, AttrServletPath, AttrRemoteUser, AttrAuthType,
		AttrQueryString, AttrJvmRoute, AttrSSLCert, AttrSSLCipher,
		AttrSSLSession, AttrReqAttribute, AttrSSLKeySize, AttrSecret,
		AttrStoredMethod, AttrAreDone:
		return a
	default:
		return AttrUnknown
	}
}

// MethodStored announces that the method is carried by AttrStoredMethod.
const MethodStored byte = 0xFF

// HeaderCodePrefix is the high byte of a compact header name code.
const HeaderCodePrefix = 0xA000

// Request header codes (low byte).
const (
	ReqHeaderAccept         = 0x01
	ReqHeaderAcceptCharset  = 0x02
	ReqHeaderAcceptEncoding = 0x03
	ReqHeaderAcceptLanguage = 0x04
	ReqHeaderAuthorization  = 0x05
	ReqHeaderConnection     = 0x06
	ReqHeaderContentType    = 0x07
	ReqHeaderContentLength  = 0x08
	ReqHeaderCookie         = 0x09
	ReqHeaderCookie2        = 0x0A
	ReqHeaderHost           = 0x0B
	ReqHeaderPragma         = 0x0C
	ReqHeaderReferer        = 0x0D
	ReqHeaderUserAgent      = 0x0E
)

// Request attribute names set from forwarded SSL data.
const (
	AttrNameCipherSuite = "javax.servlet.request.cipher_suite"
	AttrNameKeySize     = "javax.servlet.request.key_size"
	AttrNameSSLSession  = "javax.servlet.request.ssl_session"
	AttrNameCertificate = "javax.servlet.request.X509Certificate"
)
