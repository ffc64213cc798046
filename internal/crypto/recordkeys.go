package icrypto

import "github.com/jmcleod/eduportal/internal/util"

const recordKeyInfo = "eduportal:record-key:v1"

// DeriveRecordKey derives the key sealing records of recordType from a
// device master key.
func DeriveRecordKey(master []byte, recordType string) ([]byte, error) {
	return util.HKDF(master, []byte(recordType), []byte(recordKeyInfo))
}
