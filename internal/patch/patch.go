package patch

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// resyncRun is how many consecutive equal bytes end a changed region.
const resyncRun = 4

// ErrPatchFormat marks a patch line that could not be parsed. Decode skips
// such lines instead of failing; the error is only reported through Stats.
var ErrPatchFormat = errors.New("malformed patch line")

// Entry overwrites Length bytes at Offset with Data. A zero-length entry
// truncates the output to Offset.
type Entry struct {
	// Offset is the first byte of the region in the target.
	Offset int
	// Length is the number of bytes covered by the region.
	Length int
	// Data holds the literal replacement bytes; len(Data) == Length.
	Data []byte
}

// Diff computes the entries that rebuild target from source.
//
// The scan is greedy and single pass: equal bytes at the same index are
// skipped, and a changed region is closed by the first run of resyncRun
// positions where both inputs agree again. Moved or copied blocks are not
// detected.
func Diff(source, target []byte) []Entry {
	var entries []Entry

	pos := 0
	for pos < len(target) {
		if pos < len(source) && source[pos] == target[pos] {
			pos++
			continue
		}

		start := pos
		end := start

		for end < len(target) && !matchingRun(source, target, end) {
			end++
		}

		data := make([]byte, end-start)
		copy(data, target[start:end])

		entries = append(entries, Entry{Offset: start, Length: end - start, Data: data})

		pos = end + resyncRun
	}

	if len(target) < len(source) {
		entries = append(entries, Entry{Offset: len(target), Length: 0})
	}

	return entries
}

// matchingRun reports whether source and target agree on resyncRun bytes
// starting at pos.
func matchingRun(source, target []byte, pos int) bool {
	if pos+resyncRun > len(source) || pos+resyncRun > len(target) {
		return false
	}

	return bytes.Equal(source[pos:pos+resyncRun], target[pos:pos+resyncRun])
}

// Apply rebuilds the target from original. Entries are applied in order:
// the buffer grows with zero bytes when an entry reaches past its end, and
// overlapping entries resolve last-applied-wins.
func Apply(original []byte, entries []Entry) []byte {
	out := make([]byte, len(original))
	copy(out, original)

	for _, entry := range entries {
		// Negative or overflowing regions cannot come from Decode; skip them anyway.
		if entry.Offset < 0 || entry.Length < 0 {
			continue
		}

		if entry.Length == 0 {
			if entry.Offset < len(out) {
				out = out[:entry.Offset]
			}

			continue
		}

		end := entry.Offset + entry.Length
		if end < entry.Offset {
			continue
		}

		if end > len(out) {
			out = append(out, make([]byte, end-len(out))...)
		}

		copy(out[entry.Offset:end], entry.Data)
	}

	return out
}

// Stats summarises a Decode call.
type Stats struct {
	// Entries is the number of entries decoded.
	Entries int
	// Skipped is the number of malformed lines that were ignored.
	Skipped int
	// Errors holds one ErrPatchFormat-wrapped error per skipped line.
	Errors []error
}

// Encode writes one "offset:length:base64(data)" line per entry.
func Encode(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)

	for _, entry := range entries {
		line := strconv.Itoa(entry.Offset) + ":" +
			strconv.Itoa(entry.Length) + ":" +
			base64.StdEncoding.EncodeToString(entry.Data) + "\n"

		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("write patch: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush patch: %w", err)
	}

	return nil
}

// Decode reads a patch file. Lines with the wrong field count, bad numbers,
// bad base64 or an offset that overflows with its length are skipped and
// counted in Stats; only I/O errors fail. Lines have no length limit.
func Decode(r io.Reader) ([]Entry, Stats, error) {
	var (
		entries []Entry
		stats   Stats
	)

	br := bufio.NewReader(r)

	for lineNumber := 1; ; lineNumber++ {
		raw, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, stats, fmt.Errorf("read patch: %w", readErr)
		}

		if line := strings.TrimSpace(raw); line != "" {
			entry, err := parseLine(line)
			if err != nil {
				stats.Skipped++
				stats.Errors = append(stats.Errors, fmt.Errorf("line %d: %w", lineNumber, err))
			} else {
				entries = append(entries, entry)
			}
		}

		if readErr != nil {
			break
		}
	}

	stats.Entries = len(entries)

	return entries, stats, nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.Split(line, ":")
	if len(fields) != 3 {
		return Entry{}, fmt.Errorf("%d fields: %w", len(fields), ErrPatchFormat)
	}

	offset, err := strconv.Atoi(fields[0])
	if err != nil || offset < 0 {
		return Entry{}, fmt.Errorf("offset %q: %w", fields[0], ErrPatchFormat)
	}

	length, err := strconv.Atoi(fields[1])
	if err != nil || length < 0 {
		return Entry{}, fmt.Errorf("length %q: %w", fields[1], ErrPatchFormat)
	}

	if offset > math.MaxInt-length {
		return Entry{}, fmt.Errorf("offset %d with length %d overflows: %w", offset, length, ErrPatchFormat)
	}

	data, err := base64.StdEncoding.DecodeString(fields[2])
	if err != nil {
		return Entry{}, fmt.Errorf("data: %w", ErrPatchFormat)
	}

	if len(data) != length {
		return Entry{}, fmt.Errorf("length %d, data %d bytes: %w", length, len(data), ErrPatchFormat)
	}

	return Entry{Offset: offset, Length: length, Data: data}, nil
}
