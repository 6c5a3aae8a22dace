// Package bus implements the directory-based notification bus. Producers
// drop one immutable JSON file per message into a shared inbox; consumers
// scan and parse them. There is no locking and no exactly-once delivery:
// any number of consumers may read the same message, and consumers must
// tolerate seeing a message again on a later run.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Message is one notification on the bus.
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	From      string         `json:"from"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Well-known message types.
const (
	TypeWakeReady       = "wake.ready"
	TypeBackupCompleted = "backup.completed"
	TypeBackupRequested = "backup.requested"
)

// messageSchema constrains what Drain accepts as a well-formed notification.
// Files that fail validation are flagged and excluded from counts, never
// surfaced as messages.
const messageSchema = `{
  "type": "object",
  "required": ["id", "type", "from", "timestamp"],
  "properties": {
    "id":        {"type": "string", "minLength": 1},
    "type":      {"type": "string", "minLength": 1},
    "from":      {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"},
    "payload":   {"type": "object"}
  }
}`

// DrainResult is what a single inbox scan produced.
type DrainResult struct {
	Messages  []Message // newest first, up to the requested limit
	Files     []string  // file name backing each returned message
	Total     int       // well-formed messages present in the inbox
	Malformed []string  // file names that failed to parse or validate
}

// Bus is a handle on one inbox directory.
type Bus struct {
	dir    string
	schema *jsonschema.Schema
	logger *slog.Logger
}

// New opens (creating if needed) the inbox directory.
func New(dir string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(messageSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal message schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("notification.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("notification.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile message schema: %w", err)
	}

	return &Bus{dir: dir, schema: schema, logger: logger}, nil
}

// Dir returns the inbox directory.
func (b *Bus) Dir() string { return b.dir }

// Publish writes msg as a new immutable file and returns its ID. Missing ID
// and timestamp fields are filled in. File names sort by publish time so a
// lexical scan yields chronological order.
func (b *Bus) Publish(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if strings.TrimSpace(msg.Type) == "" {
		return "", fmt.Errorf("publish: empty message type")
	}
	if strings.TrimSpace(msg.From) == "" {
		return "", fmt.Errorf("publish: empty sender")
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	name := fmt.Sprintf("%020d-%s.json", msg.Timestamp.UnixNano(), shortID(msg.ID))
	tmp, err := os.CreateTemp(b.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp message: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write message: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close message: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(b.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish message: %w", err)
	}

	b.logger.Debug("published notification", "id", msg.ID, "type", msg.Type, "file", name)
	return msg.ID, nil
}

// Drain scans the inbox and returns the limit most recent well-formed
// messages. The scan is read-only: draining twice with no new publishes
// returns the same messages. Malformed files are flagged by name and
// excluded from Total.
func (b *Bus) Drain(ctx context.Context, limit int) (DrainResult, error) {
	var res DrainResult

	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return res, fmt.Errorf("read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") || strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		names = append(names, ent.Name())
	}
	// Newest first: file names embed the publish timestamp.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		msg, err := b.readMessage(name)
		if err != nil {
			b.logger.Warn("malformed notification skipped", "file", name, "error", err)
			res.Malformed = append(res.Malformed, name)
			continue
		}
		res.Total++
		if limit <= 0 || len(res.Messages) < limit {
			res.Messages = append(res.Messages, msg)
			res.Files = append(res.Files, name)
		}
	}
	return res, nil
}

// Archive moves the named message files into an archive/ subdirectory.
// Cleanup is the only sanctioned mutation of a published message.
func (b *Bus) Archive(names []string) error {
	archiveDir := filepath.Join(b.dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	var errs []error
	for _, name := range names {
		src := filepath.Join(b.dir, name)
		if err := os.Rename(src, filepath.Join(archiveDir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("archive %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) readMessage(name string) (Message, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		return Message{}, err
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return Message{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := b.schema.Validate(parsed); err != nil {
		return Message{}, fmt.Errorf("schema validation: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
