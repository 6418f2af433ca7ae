package internal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// CodeAlphabet is the character set for human-typable codes. Lookalike
// characters (0/O, 1/I) are excluded.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode returns a random code of the given length drawn from
// [CodeAlphabet] using crypto/rand.
func NewCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("invalid code length")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(CodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// NewGroupedCode returns a code of groups*groupLen characters formatted in
// dash-separated groups, e.g. "XXXX-XXXX-XXXX".
func NewGroupedCode(groups, groupLen int) (string, error) {
	if groups <= 0 || groupLen <= 0 {
		return "", errors.New("invalid code grouping")
	}

	code, err := NewCode(groups * groupLen)
	if err != nil {
		return "", err
	}
	return FormatGroups(code, groupLen), nil
}

// FormatGroups inserts a dash every size characters.
func FormatGroups(code string, size int) string {
	if size <= 0 || len(code) <= size {
		return code
	}

	var b strings.Builder
	b.Grow(len(code) + len(code)/size)
	for i, r := range code {
		if i > 0 && i%size == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}
