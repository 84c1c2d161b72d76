package extractor

import "regexp"

// matchBalanced returns the index just past the bracket that closes the one
// at text[open]. Brackets inside string literals are ignored and ( [ { are
// tracked on one stack, so nested objects and arrays do not end the scan early.
func matchBalanced(text string, open int) (end int, ok bool) {
	if open < 0 || open >= len(text) {
		return 0, false
	}
	if closerOf(text[open]) == 0 {
		return 0, false
	}

	stack := make([]byte, 0, 8)
	for i := open; i < len(text); i++ {
		ch := text[i]
		switch ch {
		case '"', '\'', '`':
			next, ok := skipString(text, i)
			if !ok {
				return 0, false
			}
			i = next - 1
		case '(', '[', '{':
			stack = append(stack, closerOf(ch))
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// skipString returns the index just past the string literal opening at text[start].
func skipString(text string, start int) (int, bool) {
	quote := text[start]
	for i := start + 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case quote:
			return i + 1, true
		case '\n':
			if quote != '`' {
				return 0, false
			}
		}
	}
	return 0, false
}

func closerOf(ch byte) byte {
	switch ch {
	case '(':
		return ')'
	case '[':
		return ']'
	case '{':
		return '}'
	}
	return 0
}

// fragments returns the bracketed value of every "key: [" or "key: {" in
// text, in order, including the brackets.
func fragments(text string, key *regexp.Regexp) []string {
	var out []string
	for _, loc := range key.FindAllStringIndex(text, -1) {
		open := loc[1] - 1
		if end, ok := matchBalanced(text, open); ok {
			out = append(out, text[open:end])
		}
	}
	return out
}

// topLevelObjects returns the { ... } literals directly inside an array fragment.
func topLevelObjects(array string) []string {
	if len(array) < 2 || array[0] != '[' {
		return nil
	}

	var objs []string
	inner := array[1 : len(array)-1]
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '"', '\'', '`':
			next, ok := skipString(inner, i)
			if !ok {
				return objs
			}
			i = next - 1
		case '{':
			end, ok := matchBalanced(inner, i)
			if !ok {
				return objs
			}
			objs = append(objs, inner[i:end])
			i = end - 1
		case '[', '(':
			end, ok := matchBalanced(inner, i)
			if !ok {
				return objs
			}
			i = end - 1
		}
	}
	return objs
}
