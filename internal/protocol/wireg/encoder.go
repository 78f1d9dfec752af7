package wireg

import "encoding/binary"

// AppendReply 在 dst 之后拼接应答帧并返回结果切片。
// 布局：transID[4] | cmd[1] | status[1] | payload[...]，payload 原样拼接，
// 无转义也无长度前缀（长度由数据报本身界定）。
func AppendReply(dst []byte, transID uint32, cmd, status uint8, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, transID)
	dst = append(dst, cmd, status)
	return append(dst, payload...)
}

// BuildReply 构造一帧新的应答
func BuildReply(transID uint32, cmd, status uint8, payload []byte) []byte {
	return AppendReply(make([]byte, 0, 6+len(payload)), transID, cmd, status, payload)
}
