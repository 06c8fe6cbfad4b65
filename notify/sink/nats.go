package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bridgedist/bucketd/cfg"
	"github.com/bridgedist/bucketd/encoding"
	"github.com/bridgedist/bucketd/notify"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultSubjectPrefix is used when subject_prefix is empty
const DefaultSubjectPrefix = "bucketd"

func init() {
	notify.RegisterSink("nats", func(config cfg.SinkConfiguration) (notify.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(config.NatsURL, config.SubjectPrefix, config.Format)
	})
}

// NatsSink publishes messages to NATS JetStream
type NatsSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	format string
}

// NewNatsSink connects to NATS and creates a JetStream context
func NewNatsSink(url, prefix, format string) (*NatsSink, error) {
	if !encoding.ValidFormat(format) {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, prefix: prefix, format: format}, nil
}

// Subject returns the subject a bucket's messages are published on
func (n *NatsSink) Subject(bucketName string) string {
	return n.prefix + "." + bucketName
}

// Send publishes the encoded message. The message ID lets JetStream drop a
// retried duplicate.
func (n *NatsSink) Send(ctx context.Context, msg *notify.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	streamName := sanitizeStreamName(n.prefix)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{n.prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	data, err := encoding.Encode(n.format, msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	subject := n.Subject(msg.Bucket)
	m := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"bucket":      []string{msg.Bucket},
			nats.MsgIdHdr: []string{fmt.Sprintf("%s-%016x-%s", msg.Bucket, msg.Digest, msg.RecipientKey())},
		},
	}

	if _, err := n.js.PublishMsg(ctx, m); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName converts a subject prefix to a valid JetStream stream
// name, which can't contain "." or wildcards
func sanitizeStreamName(prefix string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_").Replace(prefix)
}
