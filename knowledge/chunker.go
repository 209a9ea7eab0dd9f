package knowledge

import "strings"

// DefaultChunkSize is the maximum chunk length in bytes.
const DefaultChunkSize = 800

// Chunk is one line-aligned slice of a document.
type Chunk struct {
	Content   string
	StartLine int
	EndLine   int
	Index     int
}

// chunkLines splits content into chunks of at most size bytes without
// breaking lines. A single line longer than size becomes its own chunk.
func chunkLines(content string, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	lines := strings.Split(content, "\n")

	if len(content) <= size {
		return []Chunk{{Content: content, StartLine: 1, EndLine: len(lines)}}
	}

	var (
		chunks  []Chunk
		current strings.Builder
		start   = 1
	)

	flush := func(end int) {
		text := strings.TrimSpace(current.String())
		if text != "" {
			chunks = append(chunks, Chunk{Content: text, StartLine: start, EndLine: end, Index: len(chunks)})
		}
		current.Reset()
	}

	for i, line := range lines {
		lineNo := i + 1

		if current.Len() > 0 && current.Len()+len(line)+1 > size {
			flush(lineNo - 1)
			start = lineNo
		}

		current.WriteString(line)
		current.WriteByte('\n')
	}

	flush(len(lines))

	return chunks
}
