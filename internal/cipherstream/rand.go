package cipherstream

import "crypto/rand"

func cryptoRandRead(buf []byte) (int, error) {
	return rand.Read(buf)
}
