// Package notify turns bucket lifecycle groups into messages and delivers
// them through configured sinks.
package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bridgedist/bucketd/bucket"
	"github.com/bridgedist/bucketd/report"
	"github.com/cespare/xxhash/v2"
)

const bodyTemplate = `
Hello,

Here is today's bulk of unallocated Tor Bridges for %s.

NEW Bridges since the last email I sent you:

%s
Bridges still RUNNING since the last email I sent you:

%s
Have fun,
The Bridge Mail Bot
`

const lineIndent = "      "

// Message is one notification for one bucket and one recipient set
type Message struct {
	Bucket  string   `json:"bucket"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	New     []string `json:"new"`
	Running []string `json:"running"`
	Digest  uint64   `json:"digest"`
}

// Recipients returns To followed by Cc
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	return append(out, m.Cc...)
}

// RecipientKey identifies the To set independent of order
func (m *Message) RecipientKey() string {
	return recipientKey(m.To)
}

func recipientKey(to []string) string {
	sorted := append([]string(nil), to...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Compose renders the mail body for a bucket: the NEW section first, then
// RUNNING, one address:port per line. An empty section reads "None".
func Compose(bucketName string, groups report.Groups) string {
	return fmt.Sprintf(bodyTemplate, bucketName, section(groups.New), section(groups.Running))
}

func section(members []bucket.Member) string {
	if len(members) == 0 {
		return lineIndent + "None\n"
	}
	var sb strings.Builder
	for _, m := range members {
		sb.WriteString(lineIndent)
		sb.WriteString(m.Endpoint())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Digest hashes the NEW and RUNNING lines of a bucket. OLD members do not
// affect it.
func Digest(groups report.Groups) uint64 {
	h := xxhash.New()
	for _, m := range groups.New {
		h.WriteString(bucket.FormatLine(m))
		h.WriteString("\n")
	}
	h.WriteString("--\n")
	for _, m := range groups.Running {
		h.WriteString(bucket.FormatLine(m))
		h.WriteString("\n")
	}
	return h.Sum64()
}

func endpoints(members []bucket.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Endpoint())
	}
	return out
}

// MessageTemplate holds the fields shared by every message of a dispatch
type MessageTemplate struct {
	From    string
	Subject string
	Cc      []string
}

// NewMessage builds the message for one bucket and recipient set
func (t MessageTemplate) NewMessage(bucketName string, to []string, groups report.Groups) *Message {
	return &Message{
		Bucket:  bucketName,
		From:    t.From,
		To:      append([]string(nil), to...),
		Cc:      append([]string(nil), t.Cc...),
		Subject: t.Subject,
		Body:    Compose(bucketName, groups),
		New:     endpoints(groups.New),
		Running: endpoints(groups.Running),
		Digest:  Digest(groups),
	}
}
