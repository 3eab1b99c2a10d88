package encoder

// --- CRC-16/ARC (reflected poly=0xA001, init=0x0000, xorout=0x0000) ---

var crc16Table [256]uint16

func init() {
	const poly = 0xA001
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC16 computes CRC-16/ARC over data.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[byte(crc)^b]
	}
	return crc
}

// WrapCRC frames a packet as [len+3] packet [crc hi] [crc lo], where the
// CRC covers the length byte and the packet.
func WrapCRC(packet []byte) []byte {
	out := make([]byte, 0, len(packet)+3)
	out = append(out, byte(len(packet)+3))
	out = append(out, packet...)
	crc := CRC16(out)
	return append(out, byte(crc>>8), byte(crc))
}
