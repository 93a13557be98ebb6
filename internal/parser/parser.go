// Package parser reads sentence pairs from study input and deck files.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	separator      = "---"
)

// Entry is one parsed sentence pair.
type Entry struct {
	Original    string
	Translation string
	Line        int // 1-based line the entry started on
}

// ParseLine splits "original|translation" on the first ASCII or full-width bar.
// A line without a bar is an original with no translation. Blank lines yield false.
func ParseLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, false
	}
	original, translation := line, ""
	if i := strings.IndexAny(line, "|｜"); i >= 0 {
		original = line[:i]
		rest := line[i:]
		if strings.HasPrefix(rest, "｜") {
			translation = rest[len("｜"):]
		} else {
			translation = rest[1:]
		}
	}
	original = strings.TrimSpace(original)
	if original == "" {
		return Entry{}, false
	}
	return Entry{Original: original, Translation: strings.TrimSpace(translation)}, true
}

// ParseLines parses every line of a chat message.
func ParseLines(text string) []Entry {
	var entries []Entry
	for i, line := range strings.Split(text, "\n") {
		if e, ok := ParseLine(line); ok {
			e.Line = i + 1
			entries = append(entries, e)
		}
	}
	return entries
}

// ParseFile reads a file from the given path and extracts all entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
)

// Parse extracts entries from a deck. A deck mixes "Q:"/"A:" blocks, which may span
// several lines and end at a blank line, "---" or the next "Q:", with one-line
// "original|translation" pairs. Outside blocks, headings and lines without a bar are
// ignored, so prose such as a README adds nothing.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var (
		entries      []Entry
		current      Entry
		currentBlock []string
		currentState = seeking
		lineNo       int
	)

	flushBlock := func() {
		if len(currentBlock) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(currentBlock, "\n"))
		switch currentState {
		case readingQuestion:
			current.Original = content
		case readingAnswer:
			current.Translation = content
		}
		currentBlock = nil
	}

	finishEntry := func() {
		flushBlock()
		if current.Original != "" {
			entries = append(entries, current)
		}
		current = Entry{}
		currentState = seeking
	}

	stripPrefix := func(line, prefix string) string {
		return strings.TrimPrefix(line[len(prefix):], " ")
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == separator:
			finishEntry()
		case strings.HasPrefix(line, questionPrefix):
			if currentState != seeking {
				finishEntry()
			}
			current.Line = lineNo
			currentState = readingQuestion
			currentBlock = append(currentBlock, stripPrefix(line, questionPrefix))
		case strings.HasPrefix(line, answerPrefix) && currentState != seeking:
			flushBlock()
			currentState = readingAnswer
			currentBlock = append(currentBlock, stripPrefix(line, answerPrefix))
		case currentState != seeking:
			if trimmed == "" {
				finishEntry()
				continue
			}
			currentBlock = append(currentBlock, line)
		case trimmed == "" || strings.HasPrefix(trimmed, "#") || !strings.ContainsAny(trimmed, "|｜"):
			// Headings, blank lines and prose between entries.
		default:
			if e, ok := ParseLine(line); ok {
				e.Line = lineNo
				entries = append(entries, e)
			}
		}
	}

	finishEntry() // Finish the very last entry in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
