package bucket

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// FileExt is the snapshot file extension
const FileExt = ".brdgs"

// LineError describes a snapshot line that was skipped
type LineError struct {
	Line   int
	Text   string
	Reason string
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ParseLine parses "identityKey address port status"
func ParseLine(line string) (Member, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Member{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}

	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return Member{}, fmt.Errorf("invalid port %q", fields[2])
	}
	if port < 0 || port > 65535 {
		return Member{}, fmt.Errorf("port %d out of range", port)
	}

	status, err := ParseStatus(fields[3])
	if err != nil {
		return Member{}, err
	}

	return Member{
		IdentityKey: fields[0],
		Address:     fields[1],
		Port:        port,
		Status:      status,
	}, nil
}

// FormatLine renders m as one snapshot line without the newline
func FormatLine(m Member) string {
	return fmt.Sprintf("%s %s %d %s", m.IdentityKey, m.Address, m.Port, m.Status.Token())
}

// MaxLineLength bounds a snapshot line. Longer lines are skipped.
const MaxLineLength = 4096

// Decode reads snapshot lines in file order. Malformed and overlong lines are
// skipped and reported; blank lines are ignored. A read error returns the
// members read so far together with the error.
func Decode(r io.Reader) ([]Member, []LineError, error) {
	var (
		members []Member
		skipped []LineError
	)

	br := bufio.NewReaderSize(r, MaxLineLength)
	lineNo := 0
	for {
		chunk, err := br.ReadSlice('\n')
		overlong := false
		for errors.Is(err, bufio.ErrBufferFull) {
			if !overlong {
				chunk = append([]byte(nil), chunk[:64]...)
			}
			overlong = true
			_, err = br.ReadSlice('\n')
		}
		if err != nil && err != io.EOF {
			return members, skipped, err
		}

		if len(chunk) > 0 {
			lineNo++
			text := strings.TrimRight(string(chunk), "\r\n")
			switch {
			case overlong:
				skipped = append(skipped, LineError{
					Line:   lineNo,
					Text:   text + "...",
					Reason: fmt.Sprintf("line exceeds %d bytes", MaxLineLength),
				})
			case strings.TrimSpace(text) == "":
			default:
				m, perr := ParseLine(text)
				if perr != nil {
					skipped = append(skipped, LineError{Line: lineNo, Text: text, Reason: perr.Error()})
					break
				}
				members = append(members, m)
			}
		}

		if err == io.EOF {
			return members, skipped, nil
		}
	}
}

// Encode writes members sorted by identity key, one per line
func Encode(w io.Writer, members []Member) error {
	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IdentityKey < sorted[j].IdentityKey })

	bw := bufio.NewWriter(w)
	for _, m := range sorted {
		if _, err := bw.WriteString(FormatLine(m) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
