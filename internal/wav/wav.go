// Package wav wraps raw PCM samples in a RIFF/WAVE container.
package wav

import "encoding/binary"

// HeaderSize is the fixed size of the container header in bytes.
const HeaderSize = 44

const (
	formatPCM     = 1
	numChannels   = 1
	bitsPerSample = 16
)

// Encode wraps s16le mono PCM in a WAV container. The output is always
// HeaderSize+len(pcm) bytes; an empty payload yields a well-formed silent
// file. Encode performs no validation and cannot fail.
func Encode(pcm []byte, sampleRate int) []byte {
	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate) * numChannels * bitsPerSample / 8
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	buf := make([]byte, HeaderSize, HeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], numChannels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)

	return append(buf, pcm...)
}
