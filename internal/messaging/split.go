package messaging

import "unicode/utf16"

// SplitMessage breaks text into chunks of at most limit runes. A chunk ends at the last
// newline inside the window when that newline lies past the window's midpoint; the
// newline itself is dropped. Otherwise the chunk is cut hard at the limit.
func SplitMessage(text string, limit int) []string {
	return splitMessage(text, limit, func(rune) int { return 1 })
}

// SplitMessageUTF16 is SplitMessage with the limit counted in UTF-16 code units, the way
// Telegram measures message and caption length. Surrogate pairs are never split.
func SplitMessageUTF16(text string, limit int) []string {
	return splitMessage(text, limit, utf16.RuneLen)
}

// UTF16Length returns the length of s in UTF-16 code units.
func UTF16Length(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func splitMessage(text string, limit int, width func(rune) int) []string {
	runes := []rune(text)
	if limit <= 0 {
		return []string{text}
	}
	// offsets[i] is the width of runes[:i].
	offsets := make([]int, len(runes)+1)
	for i, r := range runes {
		w := width(r)
		if w < 1 {
			w = 1
		}
		offsets[i+1] = offsets[i] + w
	}
	if offsets[len(runes)] <= limit {
		return []string{text}
	}

	var chunks []string
	start := 0
	for offsets[len(runes)]-offsets[start] > limit {
		end := start
		for end < len(runes) && offsets[end+1]-offsets[start] <= limit {
			end++
		}
		if end == start {
			end = start + 1
		}
		cut := -1
		for i := end - 1; i > start && offsets[i]-offsets[start] > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i
				break
			}
		}
		if cut >= 0 {
			chunks = append(chunks, string(runes[start:cut]))
			start = cut + 1
			continue
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end
	}
	if start < len(runes) {
		chunks = append(chunks, string(runes[start:]))
	}
	return chunks
}
