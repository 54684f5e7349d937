package internal

// CRCInit is the preset of the controller's CRC-CCITT generator.
const CRCInit uint16 = 0xFFFF

var crcTable [256]uint16

func init() {
	for i := range crcTable {
		c := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x1021
			} else {
				c <<= 1
			}
		}
		crcTable[i] = c
	}
}

// CRC16 feeds data into a CRC-CCITT (x^16 + x^12 + x^5 + 1) and returns the
// updated value.
func CRC16(crc uint16, data ...byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
