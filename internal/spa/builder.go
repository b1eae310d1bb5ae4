package spa

import (
	"errors"
	"fmt"
)

// ErrNoSpace is returned when a Builder with a fixed buffer runs out of room.
var ErrNoSpace = errors.New("pod builder out of space")

// Builder writes PODs into a caller-supplied buffer. Errors are sticky: once a
// write fails every later call is a no-op and Err reports the first failure.
type Builder struct {
	buf    []byte
	limit  int
	frames []int
	err    error
}

// NewBuilder returns a Builder writing into buf[:0]. If buf has capacity the
// builder never grows past it, otherwise it allocates as needed.
func NewBuilder(buf []byte) *Builder {
	return &Builder{buf: buf[:0], limit: cap(buf)}
}

// Err returns the first error encountered while building.
func (b *Builder) Err() error {
	return b.err
}

// Bytes returns everything written so far.
func (b *Builder) Bytes() []byte {
	return b.buf
}

func (b *Builder) grow(n int) bool {
	if b.err != nil {
		return false
	}
	if b.limit > 0 && len(b.buf)+n > b.limit {
		b.err = fmt.Errorf("%w: need %d bytes, %d left", ErrNoSpace, n, b.limit-len(b.buf))
		return false
	}
	return true
}

func (b *Builder) word(v uint32) {
	if !b.grow(4) {
		return
	}
	b.buf = order.AppendUint32(b.buf, v)
}

func (b *Builder) pad() {
	n := int(padded(uint32(len(b.buf)))) - len(b.buf)
	if n == 0 || !b.grow(n) {
		return
	}
	b.buf = append(b.buf, make([]byte, n)...)
}

func (b *Builder) header(size uint32, t Type) {
	b.word(size)
	b.word(uint32(t))
}

// ID writes an Id POD.
func (b *Builder) ID(v uint32) {
	b.header(4, TypeID)
	b.word(v)
	b.pad()
}

// Int writes an Int POD.
func (b *Builder) Int(v int32) {
	b.header(4, TypeInt)
	b.word(uint32(v))
	b.pad()
}

// Rectangle writes a Rectangle POD.
func (b *Builder) Rectangle(r Rectangle) {
	b.header(8, TypeRectangle)
	b.word(r.Width)
	b.word(r.Height)
}

// Fraction writes a Fraction POD.
func (b *Builder) Fraction(f Fraction) {
	b.header(8, TypeFraction)
	b.word(f.Num)
	b.word(f.Denom)
}

// PushObject opens an Object POD. Properties are added with Prop followed by
// exactly one value, and the object is closed with Pop.
func (b *Builder) PushObject(t ObjectType, id ParamID) {
	b.frames = append(b.frames, len(b.buf))
	b.header(0, TypeObject)
	b.word(uint32(t))
	b.word(uint32(id))
}

// Prop writes a property key; the next POD written is its value.
func (b *Builder) Prop(key, flags uint32) {
	b.word(key)
	b.word(flags)
}

// Pop closes the innermost frame and fixes up its size.
func (b *Builder) Pop() {
	if len(b.frames) == 0 {
		if b.err == nil {
			b.err = errors.New("pod builder: pop without push")
		}
		return
	}
	start := b.frames[len(b.frames)-1]
	b.frames = b.frames[:len(b.frames)-1]
	if b.err != nil {
		return
	}
	order.PutUint32(b.buf[start:], uint32(len(b.buf)-start-headerSize))
	b.pad()
}

func (b *Builder) choice(ct ChoiceType, child Type, childSize uint32, n int, values func()) {
	b.header(16+childSize*uint32(n), TypeChoice)
	b.word(uint32(ct))
	b.word(0)
	b.word(childSize)
	b.word(uint32(child))
	values()
	b.pad()
}

// ChoiceEnumID writes an Enum choice of Ids. def is the default; alts are the
// acceptable values and normally include def.
func (b *Builder) ChoiceEnumID(def uint32, alts ...uint32) {
	b.choice(ChoiceEnum, TypeID, 4, 1+len(alts), func() {
		b.word(def)
		for _, v := range alts {
			b.word(v)
		}
	})
}

// ChoiceRangeRectangle writes a Range choice of Rectangles.
func (b *Builder) ChoiceRangeRectangle(def, min, max Rectangle) {
	b.choice(ChoiceRange, TypeRectangle, 8, 3, func() {
		for _, r := range []Rectangle{def, min, max} {
			b.word(r.Width)
			b.word(r.Height)
		}
	})
}

// ChoiceRangeFraction writes a Range choice of Fractions.
func (b *Builder) ChoiceRangeFraction(def, min, max Fraction) {
	b.choice(ChoiceRange, TypeFraction, 8, 3, func() {
		for _, f := range []Fraction{def, min, max} {
			b.word(f.Num)
			b.word(f.Denom)
		}
	})
}

// Finish returns the POD that starts at offset start, or the sticky error.
func (b *Builder) Finish(start int) (Pod, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.frames) != 0 {
		return nil, fmt.Errorf("pod builder: %d unclosed frames", len(b.frames))
	}
	return ParsePod(b.buf[start:])
}

// Offset returns the current write position, for use with Finish.
func (b *Builder) Offset() int {
	return len(b.buf)
}
