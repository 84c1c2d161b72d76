// Package unpacker reverses the P.A.C.K.E.R. JavaScript obfuscation
// (eval(function(p,a,c,k,e,d){...}(payload,radix,count,keywords,...))) without
// evaluating any code, and reformats the result as indented source.
package unpacker

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrPackerMismatch is returned when the input does not carry a packer call
// whose arguments can be recovered.
var ErrPackerMismatch = errors.New("input does not match the packer layout")

var (
	signatureRe = regexp.MustCompile(`eval\s*\(\s*function\s*\(\s*p\s*,\s*a\s*,\s*c\s*,\s*k\s*,\s*e\s*,\s*[dr]\s*\)`)

	// }('payload',radix,count,'k1|k2'.split('|')
	argsRe = regexp.MustCompile(`\}\s*\(\s*['"]((?:\\.|[^\\])*?)['"]\s*,\s*(\d+)\s*,\s*(\d+)\s*,\s*['"]((?:\\.|[^\\])*?)['"]\s*\.split\(\s*['"]\|['"]\s*\)`)

	wordRe = regexp.MustCompile(`\b\w+\b`)
)

// IsPacked reports whether s contains a packer call.
func IsPacked(s string) bool {
	return signatureRe.MatchString(s)
}

// Unpack decodes packed input and reformats it. Input that does not match the
// packer layout is reformatted as-is, so Unpack never fails.
func Unpack(code string) string {
	decoded, err := Decode(code)
	if err != nil {
		return Format(code)
	}
	return Format(decoded)
}

// Decode recovers the source text hidden in a packer call. It performs the
// packer's own dictionary substitution: every word token of the payload is
// read as a base-radix index into the keyword list.
func Decode(packed string) (string, error) {
	loc := signatureRe.FindStringIndex(packed)
	if loc == nil {
		return "", ErrPackerMismatch
	}

	m := argsRe.FindStringSubmatch(packed[loc[1]:])
	if m == nil {
		return "", ErrPackerMismatch
	}

	radix, err := strconv.Atoi(m[2])
	if err != nil || radix < 2 {
		return "", ErrPackerMismatch
	}
	count, err := strconv.Atoi(m[3])
	if err != nil {
		return "", ErrPackerMismatch
	}

	payload := unescapeJS(m[1])
	keywords := strings.Split(unescapeJS(m[4]), "|")

	// Indices without a keyword map to themselves, so only the keyword list
	// bounds the dictionary, whatever count claims.
	n := min(count, len(keywords))
	dict := make(map[string]string, n)
	for i := 0; i < n; i++ {
		if keywords[i] != "" {
			dict[encodeIndex(i, radix)] = keywords[i]
		}
	}

	return wordRe.ReplaceAllStringFunc(payload, func(word string) string {
		if repl, ok := dict[word]; ok {
			return repl
		}
		return word
	}), nil
}

// encodeIndex mirrors the packer's e(c): digits 0-9a-z below 36, then
// character codes offset by 29 (A-Z for radix 62).
func encodeIndex(c, radix int) string {
	var prefix string
	if c >= radix {
		prefix = encodeIndex(c/radix, radix)
	}
	c %= radix
	if c > 35 {
		return prefix + string(rune(c+29))
	}
	return prefix + strconv.FormatInt(int64(c), 36)
}

// unescapeJS resolves the escapes that can appear inside a quoted JS string.
func unescapeJS(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '\\' || i+1 >= len(s) {
			b.WriteByte(ch)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case 'x':
			if r, ok := hexRune(s, i+1, 2); ok {
				b.WriteRune(r)
				i += 2
			} else {
				b.WriteByte('x')
			}
		case 'u':
			if r, ok := hexRune(s, i+1, 4); ok {
				b.WriteRune(r)
				i += 4
			} else {
				b.WriteByte('u')
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func hexRune(s string, start, n int) (rune, bool) {
	if start+n > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[start:start+n], 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return 0, false
	}
	return rune(v), true
}
