// Package lifecycle implements the process side of the orchestration
// contract: each syncd process announces itself in a redis-backed
// directory so the orchestrator can address live document processes
// and reap dead ones when their TTL lapses.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is what a process publishes about itself.
type Record struct {
	Document    string    `json:"document"`
	Addr        string    `json:"addr"`
	Connections int64     `json:"connections"`
	StartedAt   time.Time `json:"started_at"`
}

var ErrNotFound = errors.New("document process not found")

// Directory is the redis-backed address book of live document
// processes. Entries expire unless refreshed by Heartbeat.
type Directory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to redis and returns a directory whose entries live for
// ttl between heartbeats.
func New(redisURL string, ttl time.Duration) (*Directory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient builds a directory from an existing redis client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Directory{
		client: client,
		prefix: "doc:",
		ttl:    ttl,
	}
}

func (d *Directory) key(document string) string {
	return d.prefix + document
}

// Announce publishes or refreshes the record for rec.Document.
func (d *Directory) Announce(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal directory record: %w", err)
	}
	if err := d.client.Set(ctx, d.key(rec.Document), data, d.ttl).Err(); err != nil {
		return fmt.Errorf("announce %s: %w", rec.Document, err)
	}
	return nil
}

// Lookup resolves a document name to its live process record. Expired
// or never-announced documents return ErrNotFound.
func (d *Directory) Lookup(ctx context.Context, document string) (Record, error) {
	data, err := d.client.Get(ctx, d.key(document)).Result()
	if err == redis.Nil {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, document)
	}
	if err != nil {
		return Record{}, fmt.Errorf("lookup %s: %w", document, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal directory record: %w", err)
	}
	return rec, nil
}

// Withdraw removes the record for a document, typically right before
// the process exits.
func (d *Directory) Withdraw(ctx context.Context, document string) error {
	if err := d.client.Del(ctx, d.key(document)).Err(); err != nil {
		return fmt.Errorf("withdraw %s: %w", document, err)
	}
	return nil
}

// Heartbeat re-announces the record produced by fn at the given
// interval until ctx is cancelled. Transient announce failures are
// logged and retried on the next tick; a redis outage shorter than the
// TTL never de-registers the process.
func (d *Directory) Heartbeat(ctx context.Context, interval time.Duration, fn func() Record) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Announce(ctx, fn()); err != nil && ctx.Err() == nil {
				log.Printf("directory heartbeat: %v", err)
			}
		}
	}
}

func (d *Directory) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *Directory) Close() error {
	return d.client.Close()
}
