package gateway

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GenerateServerID 生成桥接器实例标识：regbridge-{主机名}-{uuid 前 8 位}。
// 多实例部署时在日志与状态查询里区分彼此；环境变量 SERVER_ID 可固定覆盖。
func GenerateServerID() string {
	if id := os.Getenv("SERVER_ID"); id != "" {
		return id
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("regbridge-%s-%s", hostname, uuid.NewString()[:8])
}
