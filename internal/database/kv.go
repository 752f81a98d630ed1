package database

import "strings"

// KVRecord is one entry of the sign key-value storage.
type KVRecord struct {
	Key       string `gorm:"primaryKey;type:varchar(512)"`
	Value     []byte `gorm:"type:bytea"`
	UpdatedAt int64
}

// unique_violation, as reported by the postgres driver
const duplicateKeyErrString = "duplicate key"

// IsDuplicateKeyErr 返回是否为唯一键冲突错误
func IsDuplicateKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), duplicateKeyErrString)
}
