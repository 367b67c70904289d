package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format is the detected container of a recording.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatOGG Format = "ogg"
)

// SniffFormat detects the recording container from magic bytes, falling
// back to the Content-Type header when the bytes are ambiguous.
func SniffFormat(data []byte, contentType string) (Format, error) {
	if len(data) < 4 {
		return "", wrapErr(KindDecode, errors.New("recording is empty or truncated"))
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return FormatWAV, nil
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG, nil
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3, nil
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// Raw MPEG frame sync.
		return FormatMP3, nil
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "wav"):
		return FormatWAV, nil
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return FormatMP3, nil
	case strings.Contains(ct, "ogg"):
		return FormatOGG, nil
	}
	return "", wrapErr(KindUnsupported, fmt.Errorf("unrecognized audio (content-type %q)", contentType))
}

// wavDuration reads the fmt and data chunks of a RIFF/WAVE file and
// derives the play length from the byte rate.
func wavDuration(data []byte) (time.Duration, error) {
	if len(data) < 12 || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return 0, errors.New("not a WAVE file")
	}
	var byteRate uint32
	var dataLen uint32
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, errors.New("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataLen = size
		}
		// Chunks are word-aligned.
		off = body + int(size)
		if size%2 == 1 {
			off++
		}
	}
	if byteRate == 0 {
		return 0, errors.New("missing or zero byte rate")
	}
	if dataLen == 0 {
		return 0, errors.New("missing data chunk")
	}
	return time.Duration(float64(dataLen) / float64(byteRate) * float64(time.Second)), nil
}
