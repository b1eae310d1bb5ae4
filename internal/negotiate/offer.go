package negotiate

import (
	"fmt"

	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
)

// BuildOffer validates r and writes an EnumFormat object describing it into b.
// The returned Pod aliases b's buffer.
func BuildOffer(b *spa.Builder, r CapabilityRange) (spa.Pod, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return buildOffer(b, r)
}

// buildOffer assumes r has been validated.
func buildOffer(b *spa.Builder, r CapabilityRange) (spa.Pod, error) {
	start := b.Offset()

	// Enum alternatives must list every acceptable value, the default
	// included, so the default appears twice.
	formats := make([]uint32, len(r.Formats))
	for i, f := range r.Formats {
		formats[i] = uint32(f)
	}

	b.PushObject(spa.ObjectTypeFormat, spa.ParamEnumFormat)
	b.Prop(spa.FormatMediaType, 0)
	b.ID(uint32(spa.MediaTypeVideo))
	b.Prop(spa.FormatMediaSubtype, 0)
	b.ID(uint32(spa.MediaSubtypeRaw))
	b.Prop(spa.FormatVideoFormat, 0)
	b.ChoiceEnumID(formats[0], formats...)
	b.Prop(spa.FormatVideoSize, 0)
	b.ChoiceRangeRectangle(r.Size.Default, r.Size.Min, r.Size.Max)
	b.Prop(spa.FormatVideoFramerate, 0)
	b.ChoiceRangeFraction(r.Framerate.Default, r.Framerate.Min, r.Framerate.Max)
	b.Pop()

	pod, err := b.Finish(start)
	if err != nil {
		return nil, fmt.Errorf("build offer: %w", err)
	}
	return pod, nil
}

// Fixate writes the Format object a server sends back when it accepts every
// default of r.
func Fixate(b *spa.Builder, r CapabilityRange) (spa.Pod, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return BuildFormat(b, r.DefaultFormat(), r.Size.Default, r.Framerate.Default)
}

// BuildFormat writes a fixed video/raw Format object.
func BuildFormat(b *spa.Builder, format spa.VideoFormat, size spa.Rectangle, rate spa.Fraction) (spa.Pod, error) {
	start := b.Offset()

	b.PushObject(spa.ObjectTypeFormat, spa.ParamFormat)
	b.Prop(spa.FormatMediaType, 0)
	b.ID(uint32(spa.MediaTypeVideo))
	b.Prop(spa.FormatMediaSubtype, 0)
	b.ID(uint32(spa.MediaSubtypeRaw))
	b.Prop(spa.FormatVideoFormat, 0)
	b.ID(uint32(format))
	b.Prop(spa.FormatVideoSize, 0)
	b.Rectangle(size)
	b.Prop(spa.FormatVideoFramerate, 0)
	b.Fraction(rate)
	b.Pop()

	pod, err := b.Finish(start)
	if err != nil {
		return nil, fmt.Errorf("build format: %w", err)
	}
	return pod, nil
}
