package device

// Packed 24-bit samples travel as little-endian bytes; PortAudio wants
// them in host order.

// int24FromLittle returns the 3-byte sample at src in host order
func int24FromLittle(src []byte, hostLittle bool) [3]byte {
	if hostLittle {
		return [3]byte{src[0], src[1], src[2]}
	}
	return [3]byte{src[2], src[1], src[0]}
}

// putInt24Little stores the host-order sample v at dst as little-endian
func putInt24Little(dst []byte, v [3]byte, hostLittle bool) {
	if hostLittle {
		dst[0], dst[1], dst[2] = v[0], v[1], v[2]
		return
	}
	dst[0], dst[1], dst[2] = v[2], v[1], v[0]
}
