package spa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderIDLayout(t *testing.T) {
	b := NewBuilder(nil)
	b.ID(uint32(MediaTypeVideo))
	require.NoError(t, b.Err())

	data := b.Bytes()
	require.Len(t, data, 16)
	assert.Equal(t, uint32(4), order.Uint32(data[0:4]))
	assert.Equal(t, uint32(TypeID), order.Uint32(data[4:8]))
	assert.Equal(t, uint32(MediaTypeVideo), order.Uint32(data[8:12]))
	assert.Equal(t, []byte{0, 0, 0, 0}, data[12:16], "padding")

	pod, err := ParsePod(data)
	require.NoError(t, err)
	id, err := pod.Value().ID()
	require.NoError(t, err)
	assert.Equal(t, uint32(MediaTypeVideo), id)
}

func TestObjectProps(t *testing.T) {
	b := NewBuilder(nil)
	b.PushObject(ObjectTypeFormat, ParamFormat)
	b.Prop(FormatMediaType, 0)
	b.ID(uint32(MediaTypeVideo))
	b.Prop(FormatVideoSize, 0)
	b.Rectangle(Rectangle{Width: 1920, Height: 1080})
	b.Prop(FormatVideoFramerate, 0)
	b.Fraction(Fraction{Num: 30, Denom: 1})
	b.Pop()

	pod, err := b.Finish(0)
	require.NoError(t, err)
	assert.Equal(t, TypeObject, pod.Type())
	assert.Zero(t, len(pod)%8)

	obj, err := pod.Object()
	require.NoError(t, err)
	assert.Equal(t, ObjectTypeFormat, obj.Type)
	assert.Equal(t, ParamFormat, obj.ID)

	props, err := obj.Props()
	require.NoError(t, err)
	require.Len(t, props, 3)
	assert.Equal(t, FormatMediaType, props[0].Key)
	assert.Equal(t, FormatVideoFramerate, props[2].Key)

	size, err := obj.Find(FormatVideoSize)
	require.NoError(t, err)
	rect, err := size.Value.Value().Rectangle()
	require.NoError(t, err)
	assert.Equal(t, Rectangle{Width: 1920, Height: 1080}, rect)

	_, err = obj.Find(FormatVideoFormat)
	assert.ErrorIs(t, err, ErrPropNotFound)
}

func TestChoiceDefaults(t *testing.T) {
	b := NewBuilder(nil)
	b.ChoiceEnumID(uint32(VideoFormatRGB), uint32(VideoFormatRGB), uint32(VideoFormatBGRx))
	b.ChoiceRangeRectangle(Rectangle{320, 240}, Rectangle{1, 1}, Rectangle{4096, 4096})
	require.NoError(t, b.Err())

	enum, err := ParsePod(b.Bytes())
	require.NoError(t, err)
	c, err := enum.Choice()
	require.NoError(t, err)
	assert.Equal(t, ChoiceEnum, c.Type)
	assert.Equal(t, TypeID, c.ChildType)
	assert.Equal(t, 3, c.Len())

	v, err := enum.Value().Fixed()
	require.NoError(t, err)
	id, err := v.ID()
	require.NoError(t, err)
	assert.Equal(t, uint32(VideoFormatRGB), id)

	last, err := c.Index(2)
	require.NoError(t, err)
	id, err = last.ID()
	require.NoError(t, err)
	assert.Equal(t, uint32(VideoFormatBGRx), id)

	_, err = c.Index(3)
	assert.ErrorIs(t, err, ErrTruncated)

	// 16 byte header + 3 ids = 28, padded to 32
	rangePod, err := ParsePod(b.Bytes()[8+32:])
	require.NoError(t, err)
	v, err = rangePod.Value().Fixed()
	require.NoError(t, err)
	rect, err := v.Rectangle()
	require.NoError(t, err)
	assert.Equal(t, Rectangle{320, 240}, rect)
}

func TestParseErrors(t *testing.T) {
	b := NewBuilder(nil)
	b.Rectangle(Rectangle{Width: 10, Height: 20})
	full := b.Bytes()

	for _, test := range []struct {
		name string
		data []byte
		err  error
	}{
		{"empty", nil, ErrTruncated},
		{"short header", full[:5], ErrTruncated},
		{"short body", full[:12], ErrTruncated},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParsePod(test.data)
			assert.ErrorIs(t, err, test.err)
		})
	}

	pod, err := ParsePod(full)
	require.NoError(t, err)
	_, err = pod.Value().ID()
	assert.ErrorIs(t, err, ErrUnexpectedType)
	_, err = pod.Object()
	assert.ErrorIs(t, err, ErrUnexpectedType)

	// header claims Rectangle but the body is only 4 bytes
	bad := NewBuilder(nil)
	bad.header(4, TypeRectangle)
	bad.word(7)
	pod, err = ParsePod(bad.Bytes())
	require.NoError(t, err)
	_, err = pod.Value().Rectangle()
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestObjectTruncatedProperty(t *testing.T) {
	b := NewBuilder(nil)
	b.PushObject(ObjectTypeFormat, ParamFormat)
	b.Prop(FormatMediaType, 0)
	b.ID(uint32(MediaTypeVideo))
	b.Prop(FormatVideoSize, 0)
	b.Rectangle(Rectangle{Width: 1, Height: 1})
	b.Pop()
	data := b.Bytes()

	// shrink the object so the last property value is cut in half
	cut := append([]byte(nil), data[:len(data)-4]...)
	order.PutUint32(cut[0:4], uint32(len(cut)-headerSize))

	pod, err := ParsePod(cut)
	require.NoError(t, err)
	obj, err := pod.Object()
	require.NoError(t, err)

	_, err = obj.Find(FormatMediaType)
	assert.NoError(t, err, "properties before the damage are readable")
	_, err = obj.Find(FormatVideoSize)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestBuilderFixedBuffer(t *testing.T) {
	b := NewBuilder(make([]byte, 0, 12))
	b.ID(1)
	assert.ErrorIs(t, b.Err(), ErrNoSpace)

	b.ID(2)
	_, err := b.Finish(0)
	assert.ErrorIs(t, err, ErrNoSpace)

	b = NewBuilder(make([]byte, 0, 64))
	b.PushObject(ObjectTypeFormat, ParamEnumFormat)
	_, err = b.Finish(0)
	assert.Error(t, err, "unclosed frame")
}

func TestVideoFormatText(t *testing.T) {
	for _, test := range []struct {
		in   string
		want VideoFormat
	}{
		{"BGRx", VideoFormatBGRx},
		{"bgrx", VideoFormatBGRx},
		{"I420", VideoFormatI420},
		{"VideoFormat(4242)", VideoFormat(4242)},
	} {
		got, err := ParseVideoFormat(test.in)
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, got)
	}

	_, err := ParseVideoFormat("P010")
	assert.Error(t, err)

	text, err := VideoFormat(4242).MarshalText()
	require.NoError(t, err)
	var back VideoFormat
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, VideoFormat(4242), back)
}

func TestFraction(t *testing.T) {
	f, err := ParseFraction("60/1")
	require.NoError(t, err)
	assert.Equal(t, Fraction{60, 1}, f)

	f, err = ParseFraction("25")
	require.NoError(t, err)
	assert.Equal(t, Fraction{25, 1}, f)

	_, err = ParseFraction("x/2")
	assert.Error(t, err)

	assert.Equal(t, 0, Fraction{30, 1}.Compare(Fraction{60, 2}))
	assert.Equal(t, -1, Fraction{0, 1}.Compare(Fraction{1, 1000}))
	assert.Equal(t, 1, Fraction{1000, 1}.Compare(Fraction{60, 1}))
}
