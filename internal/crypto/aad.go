package icrypto

import (
	"encoding/binary"
)

const aadRecord = "RECORD"

// AADRecord binds a sealed record to its location so an envelope copied to
// another namespace, type or id fails to open.
func AADRecord(namespace, recordType, recordID string, ver int) []byte {
	return buildAAD(aadRecord, namespace, recordType, recordID, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case uint64:
			res = binary.BigEndian.AppendUint64(res, v)
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
