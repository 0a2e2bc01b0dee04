package extractor

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// extractText reads a .txt file, decoding it as UTF-8 first and falling
// back to CP1251 then Latin-1 when the bytes aren't valid UTF-8 — mirroring
// the encoding-detection chain HR departments' legacy exports tend to need.
func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	if text, err := decodeWith(charmap.Windows1251, data); err == nil {
		return text, nil
	}

	text, err := decodeWith(charmap.ISO8859_1, data)
	if err != nil {
		return "", fmt.Errorf("%w: no supported encoding decoded this file", ErrCorruptFile)
	}
	return text, nil
}

func decodeWith(cm *charmap.Charmap, data []byte) (string, error) {
	decoded, err := cm.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(decoded) {
		return "", io.ErrUnexpectedEOF
	}
	return string(decoded), nil
}
