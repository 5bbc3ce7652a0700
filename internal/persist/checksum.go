package persist

import (
	"encoding/hex"
	"io"
	"strconv"

	"github.com/l1jgo/worldcore/internal/scene"
	"golang.org/x/crypto/blake2b"
)

// checksum is a BLAKE2b-256 digest over exactly the values a snapshot stores,
// in row order, so Load can recompute it from what it reads back.
func checksum(f *scene.File, payloads [][]string) string {
	h, _ := blake2b.New256(nil) // only fails for keys over 64 bytes
	field := func(s string) {
		io.WriteString(h, strconv.Itoa(len(s)))
		io.WriteString(h, ":")
		io.WriteString(h, s)
	}
	num := func(v float64) { field(strconv.FormatFloat(v, 'g', -1, 64)) }

	for i, o := range f.Objects {
		field(o.ID.String())
		if o.Parent != nil {
			field(o.Parent.String())
		} else {
			field("")
		}
		field(o.Name)
		field(strconv.FormatBool(o.Inactive))
		t := o.Transform
		if t == nil {
			t = &identityTransform
		}
		for _, v := range t.Position {
			num(v)
		}
		for _, v := range t.Rotation {
			num(v)
		}
		for _, v := range t.Scale {
			num(v)
		}
		field(strconv.Itoa(len(o.Components)))
		for j, c := range o.Components {
			field(c.Kind)
			field(payloads[i][j])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
