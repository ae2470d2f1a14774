package queue

import (
	"context"
	"time"
)

// Queue names shared with the external tracking, conversion, and file-manager
// stages. The names are wire contract.
const (
	DownloadTorrent = "download_torrent"
	TrackTorrent    = "track_torrent"
	ConvertVideo    = "convert_video"
	FileMove        = "file_move"
	FileDelete      = "file_delete"
)

// Names lists every queue the system touches, in declaration order.
func Names() []string {
	return []string{DownloadTorrent, TrackTorrent, ConvertVideo, FileMove, FileDelete}
}

// Delivery is one consumed message. Ack and Nack must be called exactly once
// by whichever consumer accepts responsibility for the side effects.
type Delivery struct {
	Body        []byte
	Redelivered bool

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery binds a message body to its acknowledgement callbacks. Fabric
// implementations and consumer tests build deliveries through this.
func NewDelivery(body []byte, redelivered bool, ack func() error, nack func(requeue bool) error) *Delivery {
	return &Delivery{Body: body, Redelivered: redelivered, ack: ack, nack: nack}
}

func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d *Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Handler processes one delivery. Implementations own acknowledgement.
type Handler func(ctx context.Context, d *Delivery)

type publishOptions struct {
	persistent bool
	expiration time.Duration
}

// PublishOption tweaks delivery metadata for a single publish.
type PublishOption func(*publishOptions)

// WithPersistent asks the broker to survive restarts with the message.
func WithPersistent() PublishOption {
	return func(o *publishOptions) { o.persistent = true }
}

// WithExpiration drops the message if it is not consumed within ttl.
func WithExpiration(ttl time.Duration) PublishOption {
	return func(o *publishOptions) { o.expiration = ttl }
}

// Fabric is the set of named durable queues the pipeline publishes to and
// consumes from. It is injected into the orchestrator and the torrent
// service so tests can substitute the in-memory implementation.
type Fabric interface {
	Publish(ctx context.Context, queue string, payload any, opts ...PublishOption) error
	Consume(ctx context.Context, queue string, handler Handler) error
	Purge(ctx context.Context, queue string) error
	Close() error
}
