package spa

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PODs are laid out in host byte order.
var order = binary.NativeEndian

const (
	headerSize = 8
	podAlign   = 8
)

// Parse errors.
var (
	ErrTruncated      = errors.New("pod truncated")
	ErrInvalidSize    = errors.New("pod size invalid for type")
	ErrUnexpectedType = errors.New("unexpected pod type")
	ErrPropNotFound   = errors.New("property not found")
)

func padded(n uint32) uint64 {
	return (uint64(n) + podAlign - 1) &^ (podAlign - 1)
}

// Pod is one complete POD: header followed by body. A Pod returned by
// ParsePod aliases the input buffer.
type Pod []byte

// ParsePod checks that data starts with a complete POD and returns it,
// trimmed to header plus body. Trailing padding is not required.
func ParsePod(data []byte) (Pod, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, headerSize, len(data))
	}
	size := order.Uint32(data[0:4])
	if uint64(size) > uint64(len(data)-headerSize) {
		return nil, fmt.Errorf("%w: body of %d bytes, have %d", ErrTruncated, size, len(data)-headerSize)
	}
	return Pod(data[:headerSize+int(size)]), nil
}

// Size returns the body size recorded in the header.
func (p Pod) Size() uint32 {
	return order.Uint32(p[0:4])
}

// Type returns the POD type recorded in the header.
func (p Pod) Type() Type {
	return Type(order.Uint32(p[4:8]))
}

// Body returns the POD body without padding.
func (p Pod) Body() []byte {
	return p[headerSize:]
}

// Value returns the body of p typed by its header.
func (p Pod) Value() Value {
	return Value{Type: p.Type(), Body: p.Body()}
}

// Object decodes p as an Object POD.
func (p Pod) Object() (Object, error) {
	return p.Value().Object()
}

// Choice decodes p as a Choice POD.
func (p Pod) Choice() (Choice, error) {
	return p.Value().Choice()
}

// Value is a typed POD body. Choice children have no header of their own, so
// they are handed out as Values too.
type Value struct {
	Type Type
	Body []byte
}

func (v Value) expect(t Type, size int) error {
	if v.Type != t {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedType, t, v.Type)
	}
	if len(v.Body) < size {
		return fmt.Errorf("%w: %s needs %d bytes, have %d", ErrInvalidSize, t, size, len(v.Body))
	}
	return nil
}

// ID decodes an Id value.
func (v Value) ID() (uint32, error) {
	if err := v.expect(TypeID, 4); err != nil {
		return 0, err
	}
	return order.Uint32(v.Body), nil
}

// Int decodes an Int value.
func (v Value) Int() (int32, error) {
	if err := v.expect(TypeInt, 4); err != nil {
		return 0, err
	}
	return int32(order.Uint32(v.Body)), nil
}

// Rectangle decodes a Rectangle value.
func (v Value) Rectangle() (Rectangle, error) {
	if err := v.expect(TypeRectangle, 8); err != nil {
		return Rectangle{}, err
	}
	return Rectangle{
		Width:  order.Uint32(v.Body[0:4]),
		Height: order.Uint32(v.Body[4:8]),
	}, nil
}

// Fraction decodes a Fraction value.
func (v Value) Fraction() (Fraction, error) {
	if err := v.expect(TypeFraction, 8); err != nil {
		return Fraction{}, err
	}
	return Fraction{
		Num:   order.Uint32(v.Body[0:4]),
		Denom: order.Uint32(v.Body[4:8]),
	}, nil
}

// Fixed resolves a Choice to its default value. Any other value is returned
// as is.
func (v Value) Fixed() (Value, error) {
	if v.Type != TypeChoice {
		return v, nil
	}
	c, err := v.Choice()
	if err != nil {
		return Value{}, err
	}
	return c.Default()
}

// Choice decodes a Choice value.
func (v Value) Choice() (Choice, error) {
	if err := v.expect(TypeChoice, 16); err != nil {
		return Choice{}, err
	}
	c := Choice{
		Type:      ChoiceType(order.Uint32(v.Body[0:4])),
		Flags:     order.Uint32(v.Body[4:8]),
		ChildSize: order.Uint32(v.Body[8:12]),
		ChildType: Type(order.Uint32(v.Body[12:16])),
		values:    v.Body[16:],
	}
	if c.ChildSize == 0 {
		return Choice{}, fmt.Errorf("%w: choice with zero-sized children", ErrInvalidSize)
	}
	return c, nil
}

// Object decodes an Object value.
func (v Value) Object() (Object, error) {
	if err := v.expect(TypeObject, 8); err != nil {
		return Object{}, err
	}
	return Object{
		Type:  ObjectType(order.Uint32(v.Body[0:4])),
		ID:    ParamID(order.Uint32(v.Body[4:8])),
		props: v.Body[8:],
	}, nil
}

// Choice is a set of alternative values of one child type.
type Choice struct {
	Type      ChoiceType
	Flags     uint32
	ChildSize uint32
	ChildType Type
	values    []byte
}

// Len returns the number of complete child values.
func (c Choice) Len() int {
	return len(c.values) / int(c.ChildSize)
}

// Index returns the i-th child value.
func (c Choice) Index(i int) (Value, error) {
	if i < 0 || i >= c.Len() {
		return Value{}, fmt.Errorf("%w: choice value %d of %d", ErrTruncated, i, c.Len())
	}
	off := i * int(c.ChildSize)
	return Value{Type: c.ChildType, Body: c.values[off : off+int(c.ChildSize)]}, nil
}

// Default returns the first child value.
func (c Choice) Default() (Value, error) {
	return c.Index(0)
}

// Object is a typed set of key/value properties.
type Object struct {
	Type  ObjectType
	ID    ParamID
	props []byte
}

// Prop is a single object property.
type Prop struct {
	Key   uint32
	Flags uint32
	Value Pod
}

// Props decodes every property of o in order.
func (o Object) Props() ([]Prop, error) {
	var props []Prop
	err := o.each(func(p Prop) bool {
		props = append(props, p)
		return true
	})
	return props, err
}

// Find returns the property with the given key. Properties before it must be
// well formed; anything after it is not inspected.
func (o Object) Find(key uint32) (Prop, error) {
	var (
		found Prop
		ok    bool
	)
	err := o.each(func(p Prop) bool {
		if p.Key == key {
			found, ok = p, true
			return false
		}
		return true
	})
	if err != nil {
		return Prop{}, err
	}
	if !ok {
		return Prop{}, fmt.Errorf("%w: key %#x", ErrPropNotFound, key)
	}
	return found, nil
}

func (o Object) each(fn func(Prop) bool) error {
	data := o.props
	for len(data) > 0 {
		if len(data) < 8 {
			return fmt.Errorf("%w: property header needs 8 bytes, have %d", ErrTruncated, len(data))
		}
		key := order.Uint32(data[0:4])
		flags := order.Uint32(data[4:8])
		value, err := ParsePod(data[8:])
		if err != nil {
			return fmt.Errorf("property %#x: %w", key, err)
		}
		if !fn(Prop{Key: key, Flags: flags, Value: value}) {
			return nil
		}
		next := 8 + headerSize + padded(value.Size())
		if next >= uint64(len(data)) {
			return nil
		}
		data = data[next:]
	}
	return nil
}
