package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// GUIDBytesLength is the size of an objectGUID value.
const GUIDBytesLength = 16

// minSIDLength is the revision, count and authority header of an objectSid.
const minSIDLength = 8

// DecodeGUID converts an objectGUID value to a UUID.
// Active Directory stores GUIDs in mixed-endian order: the first three
// groups are little-endian, the last eight bytes are big-endian.
func DecodeGUID(raw []byte) (uuid.UUID, error) {
	if len(raw) != GUIDBytesLength {
		return uuid.Nil, fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(raw))
	}

	b := make([]byte, GUIDBytesLength)
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]
	copy(b[8:], raw[8:])

	return uuid.FromBytes(b)
}

// EncodeGUID converts a UUID to the objectGUID wire format.
func EncodeGUID(id uuid.UUID) []byte {
	raw := make([]byte, GUIDBytesLength)
	raw[0], raw[1], raw[2], raw[3] = id[3], id[2], id[1], id[0]
	raw[4], raw[5] = id[5], id[4]
	raw[6], raw[7] = id[7], id[6]
	copy(raw[8:], id[8:])
	return raw
}

// DecodeSID converts a binary objectSid to its S-1-5-21-... form.
func DecodeSID(raw []byte) (string, error) {
	if len(raw) < minSIDLength {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(raw))
	}

	count := int(raw[1])
	if len(raw) < minSIDLength+4*count {
		return "", fmt.Errorf("binary SID truncated: %d sub-authorities in %d bytes", count, len(raw))
	}

	return objectsid.Decode(raw).String(), nil
}

// entryGUID returns the decoded objectGUID of e, or uuid.Nil.
func entryGUID(e *ldap.Entry) uuid.UUID {
	raw := e.GetRawAttributeValue("objectGUID")
	if len(raw) == 0 {
		return uuid.Nil
	}
	id, err := DecodeGUID(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// entrySID returns the decoded objectSid of e, or "".
func entrySID(e *ldap.Entry) string {
	raw := e.GetRawAttributeValue("objectSid")
	if len(raw) == 0 {
		return ""
	}
	sid, err := DecodeSID(raw)
	if err != nil {
		return ""
	}
	return sid
}
