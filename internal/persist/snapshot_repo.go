package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/l1jgo/worldcore/internal/scene"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	// ErrSnapshotNotFound is returned by Load for unknown snapshot names.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrSnapshotCorrupt is returned by Load when stored rows no longer
	// match the checksum written with them.
	ErrSnapshotCorrupt = errors.New("snapshot checksum mismatch")
)

// SnapshotInfo describes a stored snapshot without its contents.
type SnapshotInfo struct {
	ID        int64
	Name      string
	Tick      uint64
	Checksum  string
	CreatedAt time.Time
	Objects   int
}

// SnapshotRepo stores whole-world captures keyed by name. Objects are keyed
// by stable ID; component payloads are stored as YAML documents.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

var identityTransform = scene.Transform{Rotation: [4]float64{0, 0, 0, 1}, Scale: [3]float64{1, 1, 1}}

// encodePayloads renders every component payload as YAML text, indexed like
// f.Objects and their Components.
func encodePayloads(f *scene.File) ([][]string, error) {
	out := make([][]string, len(f.Objects))
	for i, o := range f.Objects {
		out[i] = make([]string, len(o.Components))
		for j, c := range o.Components {
			if c.Data.IsZero() {
				continue
			}
			raw, err := yaml.Marshal(&c.Data)
			if err != nil {
				return nil, fmt.Errorf("encode %s of %s: %w", c.Kind, o.ID, err)
			}
			out[i][j] = string(raw)
		}
	}
	return out, nil
}

// Save replaces the snapshot called name with f in a single transaction.
func (r *SnapshotRepo) Save(ctx context.Context, name string, tick uint64, f *scene.File) (int64, error) {
	payloads, err := encodePayloads(f)
	if err != nil {
		return 0, fmt.Errorf("snapshot %s: %w", name, err)
	}
	sum := checksum(f, payloads)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM world_snapshots WHERE name = $1`, name); err != nil {
		return 0, fmt.Errorf("snapshot replace %s: %w", name, err)
	}
	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO world_snapshots (name, tick, checksum) VALUES ($1, $2, $3) RETURNING id`,
		name, int64(tick), sum,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("snapshot insert %s: %w", name, err)
	}

	batch := &pgx.Batch{}
	for i, o := range f.Objects {
		t := o.Transform
		if t == nil {
			t = &identityTransform
		}
		batch.Queue(
			`INSERT INTO snapshot_objects
			 (snapshot_id, stable_id, parent_id, ord, name, inactive, px, py, pz, rx, ry, rz, rw, sx, sy, sz)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			id, o.ID, o.Parent, i, o.Name, o.Inactive,
			t.Position[0], t.Position[1], t.Position[2],
			t.Rotation[0], t.Rotation[1], t.Rotation[2], t.Rotation[3],
			t.Scale[0], t.Scale[1], t.Scale[2],
		)
		for j, c := range o.Components {
			batch.Queue(
				`INSERT INTO snapshot_components (snapshot_id, object_id, ord, kind, payload)
				 VALUES ($1, $2, $3, $4, $5)`,
				id, o.ID, j, c.Kind, payloads[i][j],
			)
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("snapshot rows %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("snapshot commit %s: %w", name, err)
	}
	r.db.log.Info("snapshot saved",
		zap.String("name", name),
		zap.Uint64("tick", tick),
		zap.Int("objects", len(f.Objects)),
		zap.String("checksum", sum[:16]),
	)
	return id, nil
}

// Load returns the snapshot called name as a scene file plus the tick it was
// taken at.
func (r *SnapshotRepo) Load(ctx context.Context, name string) (*scene.File, uint64, error) {
	var (
		id   int64
		tick int64
		want string
	)
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, tick, checksum FROM world_snapshots WHERE name = $1`, name,
	).Scan(&id, &tick, &want)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot lookup %s: %w", name, err)
	}

	f := &scene.File{Name: name}
	index := make(map[uuid.UUID]int)
	var payloads [][]string
	rows, err := r.db.Pool.Query(ctx,
		`SELECT stable_id, parent_id, name, inactive, px, py, pz, rx, ry, rz, rw, sx, sy, sz
		 FROM snapshot_objects WHERE snapshot_id = $1 ORDER BY ord`, id,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot objects %s: %w", name, err)
	}
	for rows.Next() {
		var (
			o scene.Object
			t scene.Transform
		)
		if err := rows.Scan(
			&o.ID, &o.Parent, &o.Name, &o.Inactive,
			&t.Position[0], &t.Position[1], &t.Position[2],
			&t.Rotation[0], &t.Rotation[1], &t.Rotation[2], &t.Rotation[3],
			&t.Scale[0], &t.Scale[1], &t.Scale[2],
		); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("snapshot objects %s: %w", name, err)
		}
		o.Transform = &t
		index[o.ID] = len(f.Objects)
		f.Objects = append(f.Objects, o)
		payloads = append(payloads, nil)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("snapshot objects %s: %w", name, err)
	}

	rows, err = r.db.Pool.Query(ctx,
		`SELECT object_id, kind, payload FROM snapshot_components
		 WHERE snapshot_id = $1 ORDER BY object_id, ord`, id,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("snapshot components %s: %w", name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			obj     uuid.UUID
			c       scene.Component
			payload string
		)
		if err := rows.Scan(&obj, &c.Kind, &payload); err != nil {
			return nil, 0, fmt.Errorf("snapshot components %s: %w", name, err)
		}
		if payload != "" {
			var doc yaml.Node
			if err := yaml.Unmarshal([]byte(payload), &doc); err != nil {
				return nil, 0, fmt.Errorf("snapshot decode %s of %s: %w", c.Kind, obj, err)
			}
			// Unmarshal wraps the value in a document node.
			if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
				c.Data = *doc.Content[0]
			}
		}
		i, ok := index[obj]
		if !ok {
			continue
		}
		f.Objects[i].Components = append(f.Objects[i].Components, c)
		payloads[i] = append(payloads[i], payload)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("snapshot components %s: %w", name, err)
	}
	if want != "" && checksum(f, payloads) != want {
		return nil, 0, fmt.Errorf("%w: %s", ErrSnapshotCorrupt, name)
	}
	return f, uint64(tick), nil
}

// List returns every stored snapshot, newest first.
func (r *SnapshotRepo) List(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT s.id, s.name, s.tick, s.checksum, s.created_at, count(o.stable_id)
		 FROM world_snapshots s LEFT JOIN snapshot_objects o ON o.snapshot_id = s.id
		 GROUP BY s.id ORDER BY s.created_at DESC, s.id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SnapshotInfo
	for rows.Next() {
		var (
			s    SnapshotInfo
			tick int64
		)
		if err := rows.Scan(&s.ID, &s.Name, &tick, &s.Checksum, &s.CreatedAt, &s.Objects); err != nil {
			return nil, err
		}
		s.Tick = uint64(tick)
		result = append(result, s)
	}
	return result, rows.Err()
}

// Delete removes the snapshot called name. Reports false if there was none.
func (r *SnapshotRepo) Delete(ctx context.Context, name string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM world_snapshots WHERE name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("snapshot delete %s: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}
