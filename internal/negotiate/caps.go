package negotiate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
)

// CapsString renders r as GStreamer caps, for transports that negotiate
// through a pipewiresrc element instead of raw PODs. The default format is
// listed first, which is the one GStreamer prefers when fixating. The string
// has no spaces so it can be embedded in a gst-launch description.
func CapsString(r CapabilityRange) string {
	names := make([]string, 0, len(r.Formats))
	seen := make(map[spa.VideoFormat]bool, len(r.Formats))
	for _, f := range r.Formats {
		if seen[f] {
			continue
		}
		seen[f] = true
		names = append(names, f.String())
	}

	var sb strings.Builder
	sb.WriteString("video/x-raw")
	if len(names) == 1 {
		fmt.Fprintf(&sb, ",format=(string)%s", names[0])
	} else {
		fmt.Fprintf(&sb, ",format=(string){%s}", strings.Join(names, ","))
	}
	fmt.Fprintf(&sb, ",width=(int)[%d,%d]", r.Size.Min.Width, r.Size.Max.Width)
	fmt.Fprintf(&sb, ",height=(int)[%d,%d]", r.Size.Min.Height, r.Size.Max.Height)
	fmt.Fprintf(&sb, ",framerate=(fraction)[%s,%s]", r.Framerate.Min, r.Framerate.Max)
	return sb.String()
}

// ParseCaps reads fixed GStreamer caps, as attached to a negotiated sample,
// with the same gates as Parse: the media type is checked before the subtype,
// and the payload only after both.
func ParseCaps(caps string, table *FormatTable) (StreamFormat, error) {
	fields := splitCaps(caps)
	if len(fields) == 0 || fields[0] == "" {
		return StreamFormat{}, reject(StateReceived, ErrMalformed, "empty caps")
	}

	media, subtype, ok := strings.Cut(fields[0], "/")
	if !ok {
		return StreamFormat{}, reject(StateReceived, ErrMalformed, "media %q has no subtype", fields[0])
	}
	if media != "video" {
		return StreamFormat{}, reject(StateTypeChecked, ErrWrongMediaType, "media type %s", media)
	}
	if subtype != "x-raw" {
		return StreamFormat{}, reject(StateSubtypeChecked, ErrWrongSubtype, "media subtype %s", subtype)
	}

	values := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		// Drop the "(type)" annotation.
		if strings.HasPrefix(value, "(") {
			if i := strings.IndexByte(value, ')'); i > 0 {
				value = value[i+1:]
			}
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	var sf StreamFormat
	name, ok := values["format"]
	if !ok {
		return StreamFormat{}, reject(StatePayloadParsed, ErrMalformed, "caps have no format")
	}
	id, err := spa.ParseVideoFormat(name)
	if err != nil {
		return StreamFormat{}, reject(StatePayloadParsed, ErrMalformed, "format: %v", err)
	}
	sf.ServerFormat = id

	for key, dst := range map[string]*uint32{"width": &sf.Width, "height": &sf.Height} {
		v, ok := values[key]
		if !ok {
			return StreamFormat{}, reject(StatePayloadParsed, ErrMalformed, "caps have no %s", key)
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return StreamFormat{}, reject(StatePayloadParsed, ErrMalformed, "%s %q is not fixed", key, v)
		}
		*dst = uint32(n)
	}

	if v, ok := values["framerate"]; ok {
		rate, err := spa.ParseFraction(v)
		if err != nil {
			return StreamFormat{}, reject(StatePayloadParsed, ErrMalformed, "framerate: %v", err)
		}
		sf.Framerate = rate
	}

	sf.PixelFormat = table.Map(sf.ServerFormat)
	return sf, nil
}

// splitCaps splits a caps structure on top-level commas and trims spaces.
func splitCaps(caps string) []string {
	var fields []string
	depth, start := 0, 0
	for i := 0; i < len(caps); i++ {
		switch caps[i] {
		case '{', '[', '<':
			depth++
		case '}', ']', '>':
			depth--
		case ',':
			if depth == 0 {
				fields = append(fields, strings.TrimSpace(caps[start:i]))
				start = i + 1
			}
		}
	}
	fields = append(fields, strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(caps[start:]), ";")))
	return fields
}
