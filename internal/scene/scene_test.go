package scene

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/mathx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type lamp struct {
	Color     string  `yaml:"color"`
	Intensity float64 `yaml:"intensity"`
}

type door struct {
	Locked bool `yaml:"locked"`
}

var (
	lampKind = ecs.RegisterKind[lamp]("scene-test.lamp")
	doorKind = ecs.RegisterKind[door]("scene-test.door")
)

const (
	roomID = "7d3c1f0e-0d4b-4f43-9a51-2f6f4c7c9e10"
	lampID = "1b0f7a52-6f5e-4a7e-8d0c-5b1e2c3d4f50"
)

// The child is listed first on purpose.
const roomYAML = `
name: room
objects:
  - id: ` + lampID + `
    parent: ` + roomID + `
    name: ceiling lamp
    transform:
      position: [0, 3, 0]
    components:
      - kind: scene-test.lamp
        data:
          color: warm
          intensity: 0.8
  - id: ` + roomID + `
    name: room
    transform:
      position: [10, 0, 0]
    components:
      - kind: scene-test.door
        data:
          locked: true
      - kind: scene-test.door
`

func newWorld(t *testing.T) *ecs.World {
	t.Helper()
	w := ecs.New(ecs.Config{Log: zaptest.NewLogger(t)})
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestSpawnBuildsHierarchy(t *testing.T) {
	f, err := Decode(strings.NewReader(roomYAML))
	require.NoError(t, err)
	require.Len(t, f.Objects, 2)

	w := newWorld(t)
	ws := w.Write()
	defer ws.Release()

	got, err := NewLoader(zaptest.NewLogger(t)).Spawn(ws, f)
	require.NoError(t, err)
	room := got[uuid.MustParse(roomID)]
	lampObj := got[uuid.MustParse(lampID)]

	p, ok := ws.Parent(lampObj)
	require.True(t, ok)
	assert.Equal(t, room, p)
	name, _ := ws.Name(lampObj)
	assert.Equal(t, "ceiling lamp", name)

	_, l, ok := lampKind.Of(ws, lampObj)
	require.True(t, ok)
	assert.Equal(t, lamp{Color: "warm", Intensity: 0.8}, *l)
	assert.Equal(t, 2, doorKind.Len(ws))
	_, d, _ := doorKind.Of(ws, room)
	assert.True(t, d.Locked)

	g, ok := ws.ComputeGlobalTransform(lampObj)
	require.True(t, ok)
	assert.True(t, g.Position.ApproxEqual(mathx.Vec3{X: 10, Y: 3}, 1e-9))
	assert.Equal(t, mathx.Vec3{X: 1, Y: 1, Z: 1}, g.Scale, "omitted scale stays identity")
}

func TestCaptureRoundTrip(t *testing.T) {
	f, err := Decode(strings.NewReader(roomYAML))
	require.NoError(t, err)
	loader := NewLoader(zaptest.NewLogger(t))

	src := newWorld(t)
	ws := src.Write()
	_, err = loader.Spawn(ws, f)
	require.NoError(t, err)
	ws.Release()

	rs := src.Read()
	captured, err := loader.Capture(rs, "copy")
	rs.Release()
	require.NoError(t, err)
	require.Len(t, captured.Objects, 2)
	assert.Equal(t, uuid.MustParse(roomID), captured.Objects[0].ID, "parents come first")

	path := filepath.Join(t.TempDir(), "copy.yaml")
	require.NoError(t, captured.SaveFile(path))
	reloaded, err := LoadFile(path)
	require.NoError(t, err)

	dst := newWorld(t)
	ws = dst.Write()
	defer ws.Release()
	got, err := loader.Spawn(ws, reloaded)
	require.NoError(t, err)

	lampObj := got[uuid.MustParse(lampID)]
	_, l, ok := lampKind.Of(ws, lampObj)
	require.True(t, ok)
	assert.Equal(t, "warm", l.Color)
	g, _ := ws.ComputeGlobalTransform(lampObj)
	assert.True(t, g.Position.ApproxEqual(mathx.Vec3{X: 10, Y: 3}, 1e-9))
}

func TestUnknownKinds(t *testing.T) {
	doc := `
name: odd
objects:
  - name: thing
    components:
      - kind: scene-test.unheard-of
        data: {x: 1}
`
	f, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)

	w := newWorld(t)
	ws := w.Write()
	defer ws.Release()

	loader := NewLoader(zaptest.NewLogger(t))
	got, err := loader.Spawn(ws, f)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	loader.Strict = true
	_, err = loader.Spawn(ws, f)
	assert.ErrorContains(t, err, "unknown component kind")
	assert.Equal(t, 1, ws.ObjectCount(), "failed spawn is rolled back")
}

func TestSpawnRollsBackOnMissingParent(t *testing.T) {
	doc := `
name: orphan
objects:
  - id: ` + roomID + `
  - id: ` + lampID + `
    parent: 00000000-0000-0000-0000-00000000beef
`
	f, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)

	w := newWorld(t)
	ws := w.Write()
	defer ws.Release()
	_, err = NewLoader(nil).Spawn(ws, f)
	assert.ErrorContains(t, err, "unknown parent")
	assert.Equal(t, 0, ws.ObjectCount())
	_, ok := ws.LookupStable(uuid.MustParse(roomID))
	assert.False(t, ok)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode(strings.NewReader("name: x\nobjetcs: []\n"))
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, (&File{Name: "empty"}).Encode(&buf))
	f, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "empty", f.Name)
}

func TestSpawnNormalizesNames(t *testing.T) {
	f := &File{Name: "cafe", Objects: []Object{{ID: uuid.MustParse(roomID), Name: "cafe\u0301"}}}

	w := newWorld(t)
	ws := w.Write()
	defer ws.Release()
	got, err := NewLoader(nil).Spawn(ws, f)
	require.NoError(t, err)
	name, _ := ws.Name(got[uuid.MustParse(roomID)])
	assert.Equal(t, "caf\u00e9", name)
}
