package util

func PutUINT64(buf []byte, n uint64) {
	if len(buf) != 8 {
		panic("in PutUINT64")
	}
	buf[0] = byte(n>>56) & 0xff
	buf[1] = byte(n>>48) & 0xff
	buf[2] = byte(n>>40) & 0xff
	buf[3] = byte(n>>32) & 0xff
	buf[4] = byte(n>>24) & 0xff
	buf[5] = byte(n>>16) & 0xff
	buf[6] = byte(n>>8) & 0xff
	buf[7] = byte(n & 0xff)
}

func GetUINT64(buf []byte) (n uint64) {
	if len(buf) != 8 {
		panic("in GetUINT64")
	}
	n = 0
	n |= uint64(buf[0]) << 56
	n |= uint64(buf[1]) << 48
	n |= uint64(buf[2]) << 40
	n |= uint64(buf[3]) << 32
	n |= uint64(buf[4]) << 24
	n |= uint64(buf[5]) << 16
	n |= uint64(buf[6]) << 8
	n |= uint64(buf[7])
	return
}

func PutUINT32(buf []byte, n uint32) {
	if len(buf) != 4 {
		panic("in PutUINT32")
	}
	buf[0] = byte(n>>24) & 0xff
	buf[1] = byte(n>>16) & 0xff
	buf[2] = byte(n>>8) & 0xff
	buf[3] = byte(n & 0xff)
}

func GetUINT32(buf []byte) (n uint32) {
	if len(buf) != 4 {
		panic("in GetUINT32")
	}
	n |= uint32(buf[0]) << 24
	n |= uint32(buf[1]) << 16
	n |= uint32(buf[2]) << 8
	n |= uint32(buf[3])
	return
}

//binary helper functions
func PutUINT16(buf []byte, n uint16) {
	if len(buf) != 2 {
		panic("in PutUINT16")
	}
	hi := (n & 0xFF00) >> 8
	lo := (n & 0x00FF)
	buf[0] = byte(hi)
	buf[1] = byte(lo)
}

func GetUINT16(buf []byte) (n uint16) {
	if len(buf) != 2 {
		panic("in GetUINT16")
	}
	var hi = uint16(buf[0]) << 8
	var lo = uint16(buf[1])
	return hi | lo
}

func Min(x uint64, y uint64) uint64 {
	if x < y {
		return x
	} else {
		return y
	}
}

// Fill sets every byte of buf to v.
func Fill(buf []byte, v byte) {
	for i := range buf {
		buf[i] = v
	}
}

// IsFilled reports whether every byte of buf equals v.
func IsFilled(buf []byte, v byte) bool {
	for _, b := range buf {
		if b != v {
			return false
		}
	}
	return true
}
