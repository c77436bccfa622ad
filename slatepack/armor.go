package slatepack

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	armorHeader = "BEGINSLATEPACK."
	armorFooter = "ENDSLATEPACK."

	// wordLength is the number of base58 characters per word.
	wordLength = 15

	// wordsPerLine is the number of words per line.
	wordsPerLine = 200

	// checksumSize is the size of the double SHA256 checksum prefixed to
	// the armored data.
	checksumSize = 4
)

func checksum(data []byte) []byte {
	return chainhash.DoubleHashB(data)[:checksumSize]
}

// Armor returns the text form of binary slatepack data: the base58
// encoding of a checksum followed by the data, split into words between the
// header and the footer.
func Armor(data []byte) string {
	raw := make([]byte, 0, checksumSize+len(data))
	raw = append(raw, checksum(data)...)
	raw = append(raw, data...)
	encoded := base58.Encode(raw)

	var b strings.Builder
	b.WriteString(armorHeader)
	for i := 0; i < len(encoded); i += wordLength {
		if (i/wordLength)%wordsPerLine == 0 && i > 0 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}

		end := i + wordLength
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
	}
	b.WriteString(". ")
	b.WriteString(armorFooter)

	return b.String()
}

// Dearmor parses the text form of a slatepack back into its binary data.
// Whitespace, including line breaks added by transports, is ignored.
func Dearmor(armored string) ([]byte, error) {
	text := strings.TrimSpace(armored)
	if !strings.HasPrefix(text, armorHeader) ||
		!strings.HasSuffix(text, armorFooter) {

		return nil, fmt.Errorf("%w: missing header or footer",
			ErrMalformedArmor)
	}

	body := strings.TrimSpace(
		text[len(armorHeader) : len(text)-len(armorFooter)],
	)
	if !strings.HasSuffix(body, ".") {
		return nil, fmt.Errorf("%w: unterminated body",
			ErrMalformedArmor)
	}
	body = strings.Join(strings.Fields(strings.TrimSuffix(body, ".")), "")
	if body == "" {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedArmor)
	}

	// Decode returns nothing on characters outside the alphabet.
	raw := base58.Decode(body)
	if len(raw) < checksumSize {
		return nil, fmt.Errorf("%w: invalid base58", ErrMalformedArmor)
	}

	data := raw[checksumSize:]
	if !bytes.Equal(raw[:checksumSize], checksum(data)) {
		return nil, fmt.Errorf("%w: checksum mismatch",
			ErrMalformedArmor)
	}

	return data, nil
}
