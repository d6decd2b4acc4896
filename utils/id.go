package utils

import (
	"github.com/rs/xid"
)

// GenerateID 生成全局唯一且按时间排序的请求ID
func GenerateID() string {
	return xid.New().String()
}
