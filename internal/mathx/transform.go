// Package mathx holds the small amount of 3D math the object graph needs.
package mathx

import "math"

type Vec3 struct {
	X, Y, Z float64
}

func (a Vec3) Add(b Vec3) Vec3       { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3       { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Mul(b Vec3) Vec3       { return Vec3{a.X * b.X, a.Y * b.Y, a.Z * b.Z} }
func (a Vec3) Scale(s float64) Vec3  { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64    { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Len() float64          { return math.Sqrt(a.Dot(a)) }
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{a.Y*b.Z - a.Z*b.Y, a.Z*b.X - a.X*b.Z, a.X*b.Y - a.Y*b.X}
}

// ApproxEqual compares component-wise within eps.
func (a Vec3) ApproxEqual(b Vec3, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}

// Quat is a unit rotation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

func IdentityQuat() Quat { return Quat{W: 1} }

// AxisAngle builds a rotation of rad radians around axis.
func AxisAngle(axis Vec3, rad float64) Quat {
	l := axis.Len()
	if l == 0 {
		return IdentityQuat()
	}
	s := math.Sin(rad/2) / l
	return Quat{axis.X * s, axis.Y * s, axis.Z * s, math.Cos(rad / 2)}
}

func (q Quat) Mul(r Quat) Quat {
	return Quat{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// Rotate applies q to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Transform is a translate-rotate-scale triple. The zero value is not the
// identity; use Identity.
type Transform struct {
	Position Vec3
	Rotation Quat
	Scale    Vec3
}

func Identity() Transform {
	return Transform{Rotation: IdentityQuat(), Scale: Vec3{1, 1, 1}}
}

func Translation(x, y, z float64) Transform {
	t := Identity()
	t.Position = Vec3{x, y, z}
	return t
}

// Compose returns parent∘local: local expressed in parent's space.
func Compose(parent, local Transform) Transform {
	return Transform{
		Position: parent.Position.Add(parent.Rotation.Rotate(parent.Scale.Mul(local.Position))),
		Rotation: parent.Rotation.Mul(local.Rotation),
		Scale:    parent.Scale.Mul(local.Scale),
	}
}

// Apply maps a point from local into parent space.
func (t Transform) Apply(p Vec3) Vec3 {
	return t.Position.Add(t.Rotation.Rotate(t.Scale.Mul(p)))
}
