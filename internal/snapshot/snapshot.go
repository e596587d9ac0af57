// Package snapshot archives the backend state of an environment label to the
// blob store and restores archives into a label, typically to seed dev from
// prod.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"shopcore/internal/blob"
	"shopcore/internal/persistence"
	"shopcore/pkg/domain"
)

const (
	// DefaultPrefix is the key prefix archives are stored under.
	DefaultPrefix = "snapshots"
	keyLayout     = "20060102T150405Z"
	contentType   = "application/json"
)

// ErrProtected is returned when an import would overwrite prod without force.
var ErrProtected = errors.New("snapshot: prod is protected, use force to overwrite")

// Archive is the stored form of one exported environment.
type Archive struct {
	Label   domain.Label    `json:"label"`
	TakenAt time.Time       `json:"taken_at"`
	Records domain.Snapshot `json:"records"`
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithPrefix sets the key prefix archives are stored under.
func WithPrefix(prefix string) Option {
	return func(x *Exporter) {
		if p := strings.Trim(prefix, "/"); p != "" {
			x.prefix = p
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Exporter) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithClock overrides time.Now for archive timestamps.
func WithClock(now func() time.Time) Option {
	return func(x *Exporter) {
		if now != nil {
			x.now = now
		}
	}
}

// Exporter moves backend state between environment labels and the blob store.
// It reads backends through the registry without changing the active label.
type Exporter struct {
	reg    *persistence.Registry
	store  blob.Store
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// New returns an exporter archiving the contexts of reg into store.
func New(reg *persistence.Registry, store blob.Store, opts ...Option) *Exporter {
	x := &Exporter{
		reg:    reg,
		store:  store,
		prefix: DefaultPrefix,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(x)
		}
	}
	return x
}

// Key returns the blob key of the archive of label taken at at.
func (x *Exporter) Key(label domain.Label, at time.Time) string {
	return path.Join(x.prefix, label.String(), at.UTC().Format(keyLayout)+".json")
}

// Export writes the current backend state of label to the blob store.
func (x *Exporter) Export(ctx context.Context, label domain.Label) (blob.Info, error) {
	c, err := x.reg.Open(ctx, label)
	if err != nil {
		return blob.Info{}, err
	}
	records, err := c.Backend().Export(ctx)
	if err != nil {
		return blob.Info{}, &domain.ContextError{Label: label, Op: "export", Err: err}
	}
	archive := Archive{Label: label, TakenAt: x.now().UTC(), Records: records}
	data, err := json.Marshal(archive)
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	info, err := x.store.Put(ctx, x.Key(label, archive.TakenAt), bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"label":   label.String(),
			"records": strconv.Itoa(records.Count()),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store snapshot: %w", err)
	}
	x.logger.Info("snapshot exported", "label", label.String(), "key", info.Key, "records", records.Count())
	return info, nil
}

// Latest returns the most recent archive of label.
func (x *Exporter) Latest(ctx context.Context, label domain.Label) (blob.Info, error) {
	infos, err := x.store.List(ctx, path.Join(x.prefix, label.String())+"/")
	if err != nil {
		return blob.Info{}, err
	}
	var latest blob.Info
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".json") && info.Key > latest.Key {
			latest = info
		}
	}
	if latest.Key == "" {
		return blob.Info{}, fmt.Errorf("no snapshot of %s: %w", label, blob.ErrNotFound)
	}
	return latest, nil
}

// Load reads and decodes the archive stored at key.
func (x *Exporter) Load(ctx context.Context, key string) (Archive, error) {
	_, rc, err := x.store.Get(ctx, key)
	if err != nil {
		return Archive{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return Archive{}, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	var archive Archive
	if err := json.Unmarshal(data, &archive); err != nil {
		return Archive{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return archive, nil
}

// Import replaces the backend state of into with the archive at key and
// releases every entity the context of into was tracking. Importing into prod
// requires force. It returns the number of records imported.
func (x *Exporter) Import(ctx context.Context, key string, into domain.Label, force bool) (int, error) {
	if into == domain.Prod && !force {
		return 0, ErrProtected
	}
	archive, err := x.Load(ctx, key)
	if err != nil {
		return 0, err
	}
	c, err := x.reg.Open(ctx, into)
	if err != nil {
		return 0, err
	}
	if err := c.Backend().Import(ctx, archive.Records); err != nil {
		return 0, &domain.ContextError{Label: into, Op: "import", Err: err}
	}
	c.Clear()
	n := archive.Records.Count()
	x.logger.Info("snapshot imported", "label", into.String(), "from", archive.Label.String(), "key", key, "records", n)
	return n, nil
}

// Seed exports from and imports the fresh archive into to.
func (x *Exporter) Seed(ctx context.Context, from, to domain.Label, force bool) (blob.Info, int, error) {
	if from == to {
		return blob.Info{}, 0, fmt.Errorf("seed %s from itself", to)
	}
	if to == domain.Prod && !force {
		return blob.Info{}, 0, ErrProtected
	}
	info, err := x.Export(ctx, from)
	if err != nil {
		return blob.Info{}, 0, err
	}
	n, err := x.Import(ctx, info.Key, to, force)
	return info, n, err
}
