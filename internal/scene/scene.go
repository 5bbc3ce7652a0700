package scene

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/handle"
	"github.com/l1jgo/worldcore/internal/mathx"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// File is a saved hierarchy. Objects reference each other only by stable ID;
// handles are runtime-only and never written.
type File struct {
	Name    string   `yaml:"name"`
	Objects []Object `yaml:"objects"`
}

type Object struct {
	ID         uuid.UUID   `yaml:"id"`
	Parent     *uuid.UUID  `yaml:"parent,omitempty"`
	Name       string      `yaml:"name,omitempty"`
	Inactive   bool        `yaml:"inactive,omitempty"`
	Transform  *Transform  `yaml:"transform,omitempty"`
	Components []Component `yaml:"components,omitempty"`
}

type Transform struct {
	Position [3]float64 `yaml:"position,flow"`
	Rotation [4]float64 `yaml:"rotation,flow"` // x, y, z, w
	Scale    [3]float64 `yaml:"scale,flow"`
}

// Component is one payload, kept as a YAML node until its kind is known.
type Component struct {
	Kind string    `yaml:"kind"`
	Data yaml.Node `yaml:"data,omitempty"`
}

func toTransform(t mathx.Transform) *Transform {
	if t == mathx.Identity() {
		return nil
	}
	return &Transform{
		Position: [3]float64{t.Position.X, t.Position.Y, t.Position.Z},
		Rotation: [4]float64{t.Rotation.X, t.Rotation.Y, t.Rotation.Z, t.Rotation.W},
		Scale:    [3]float64{t.Scale.X, t.Scale.Y, t.Scale.Z},
	}
}

func (t *Transform) transform() mathx.Transform {
	if t == nil {
		return mathx.Identity()
	}
	out := mathx.Identity()
	out.Position = mathx.Vec3{X: t.Position[0], Y: t.Position[1], Z: t.Position[2]}
	// Omitted rotation and scale keep the identity rather than zero.
	if t.Rotation != [4]float64{} {
		out.Rotation = mathx.Quat{X: t.Rotation[0], Y: t.Rotation[1], Z: t.Rotation[2], W: t.Rotation[3]}
	}
	if t.Scale != [3]float64{} {
		out.Scale = mathx.Vec3{X: t.Scale[0], Y: t.Scale[1], Z: t.Scale[2]}
	}
	return out
}

// Decode parses a scene document.
func Decode(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	return &f, nil
}

// LoadFile reads a scene file from disk.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene %s: %w", path, err)
	}
	f, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}
	return enc.Close()
}

// SaveFile writes the scene to path, replacing any existing file.
func (f *File) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write scene %s: %w", path, err)
	}
	return nil
}

// Loader turns scene files into live objects and back.
type Loader struct {
	log *zap.Logger
	// Strict fails on component kinds that are not registered instead of
	// skipping them with a warning.
	Strict bool
}

func NewLoader(log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{log: log}
}

// Spawn creates every object of f under ws and returns the handles by stable
// ID. Parents may appear after their children in the file, or already live in
// the World. On error every object created so far is destroyed again.
func (l *Loader) Spawn(ws *ecs.WriteScope, f *File) (map[uuid.UUID]handle.Handle, error) {
	spawned := make(map[uuid.UUID]handle.Handle, len(f.Objects))
	created := make([]handle.Handle, 0, len(f.Objects))
	fail := func(err error) (map[uuid.UUID]handle.Handle, error) {
		for i := len(created) - 1; i >= 0; i-- {
			ws.DestroyObject(created[i])
		}
		return nil, fmt.Errorf("spawn scene %q: %w", f.Name, err)
	}

	for i := range f.Objects {
		o := &f.Objects[i]
		h, err := ws.CreateObjectWithID(handle.Nil, o.ID)
		if err != nil {
			return fail(fmt.Errorf("object %d: %w", i, err))
		}
		created = append(created, h)
		id, _ := ws.StableID(h)
		spawned[id] = h
		if o.Name != "" {
			// Hand-edited files may carry decomposed forms; lookups by name
			// compare bytes.
			ws.SetName(h, norm.NFC.String(o.Name))
		}
		if o.Inactive {
			ws.SetActive(h, false)
		}
		ws.SetLocalTransform(h, o.Transform.transform())
		if err := l.attach(ws, h, o); err != nil {
			return fail(fmt.Errorf("object %s: %w", id, err))
		}
	}

	for i := range f.Objects {
		o := &f.Objects[i]
		if o.Parent == nil {
			continue
		}
		parent, ok := spawned[*o.Parent]
		if !ok {
			if parent, ok = ws.LookupStable(*o.Parent); !ok {
				return fail(fmt.Errorf("object %s: unknown parent %s", o.ID, *o.Parent))
			}
		}
		if err := ws.SetParent(created[i], parent); err != nil {
			return fail(fmt.Errorf("object %s: %w", o.ID, err))
		}
	}

	l.log.Info("scene spawned", zap.String("scene", f.Name), zap.Int("objects", len(created)))
	return spawned, nil
}

func (l *Loader) attach(ws *ecs.WriteScope, obj handle.Handle, o *Object) error {
	for _, c := range o.Components {
		info, ok := ecs.KindByName(c.Kind)
		if !ok {
			if l.Strict {
				return fmt.Errorf("unknown component kind %q", c.Kind)
			}
			l.log.Warn("skipping unknown component kind", zap.String("kind", c.Kind), zap.Stringer("object", o.ID))
			continue
		}
		v := info.New()
		if !c.Data.IsZero() {
			if err := c.Data.Decode(v); err != nil {
				return fmt.Errorf("decode %s: %w", c.Kind, err)
			}
		}
		if _, err := ws.AddComponentValue(info, obj, v); err != nil {
			return err
		}
	}
	return nil
}

// Capture records every live object of the World visible through s, parents
// before children, with components in attachment order.
func (l *Loader) Capture(s ecs.Scope, name string) (*File, error) {
	f := &File{Name: name}
	var visit func(h handle.Handle, parent *uuid.UUID) error
	visit = func(h handle.Handle, parent *uuid.UUID) error {
		id, ok := s.StableID(h)
		if !ok {
			return nil
		}
		o := Object{ID: id, Parent: parent}
		o.Name, _ = s.Name(h)
		if active, _ := s.Active(h); !active {
			o.Inactive = true
		}
		local, _ := s.LocalTransform(h)
		o.Transform = toTransform(local)
		for _, c := range s.Components(h) {
			info, ok := s.ComponentKind(c)
			if !ok {
				continue
			}
			v, ok := s.ComponentValue(c)
			if !ok {
				continue
			}
			comp := Component{Kind: info.Name()}
			if err := comp.Data.Encode(v); err != nil {
				return fmt.Errorf("encode %s of %s: %w", info.Name(), id, err)
			}
			o.Components = append(o.Components, comp)
		}
		f.Objects = append(f.Objects, o)
		for _, child := range s.Children(h) {
			if err := visit(child, &id); err != nil {
				return err
			}
		}
		return nil
	}
	for root := range s.Roots() {
		if err := visit(root, nil); err != nil {
			return nil, err
		}
	}
	l.log.Debug("scene captured", zap.String("scene", name), zap.Int("objects", len(f.Objects)))
	return f, nil
}
