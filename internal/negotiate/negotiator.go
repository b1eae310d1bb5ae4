package negotiate

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/pwnegotiator/internal/logger"
	"github.com/bryanchriswhite/pwnegotiator/internal/spa"
)

// Negotiator handles format negotiation for a single stream. It is read-only
// after New, so it needs no locking; create one per stream.
type Negotiator struct {
	profile Profile
}

// New validates profile and returns a negotiator for it. Configuration errors
// surface here and never during a round.
func New(profile Profile) (*Negotiator, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &Negotiator{profile: profile}, nil
}

// Profile returns the profile the negotiator was built with.
func (n *Negotiator) Profile() Profile {
	return n.profile
}

// Offer writes the EnumFormat object into buf. Pass a buffer with capacity to
// bound the write; nil lets it allocate.
func (n *Negotiator) Offer(buf []byte) (spa.Pod, error) {
	return buildOffer(spa.NewBuilder(buf), n.profile.Range)
}

// Decode parses one server-chosen Format object.
func (n *Negotiator) Decode(param []byte) (StreamFormat, error) {
	return Parse(param, n.profile.Table)
}

// Select scans the objects a server advertised and returns the first usable
// video/raw format. Objects of other kinds are skipped; a malformed video/raw
// object aborts the round. A video/raw object whose pixel format has no
// mapping is skipped too, but when nothing usable follows the first such
// format is returned together with its ErrUnsupportedFormat rejection.
func (n *Negotiator) Select(params ...[]byte) (StreamFormat, error) {
	log := logger.WithComponent("negotiate")

	var (
		lastRejection error
		unmapped      error
		fallback      StreamFormat
	)
	for i, param := range params {
		sf, err := n.Decode(param)
		if err == nil {
			if verr := sf.Validate(); verr != nil {
				log.Debug().Int("index", i).Err(verr).Msg("Skipping unmapped format")
				if unmapped == nil {
					fallback, unmapped = sf, fmt.Errorf("param %d: %w", i, verr)
				}
				continue
			}
			log.Debug().
				Int("index", i).
				Stringer("pixel_format", sf.PixelFormat).
				Msg("Selected format")
			return sf, nil
		}
		if IsFatal(err) {
			return StreamFormat{}, fmt.Errorf("param %d: %w", i, err)
		}
		log.Debug().Int("index", i).Err(err).Msg("Skipping param")
		lastRejection = err
	}
	if unmapped != nil {
		return fallback, unmapped
	}
	if lastRejection != nil {
		return StreamFormat{}, errors.Join(ErrNoFormat, lastRejection)
	}
	return StreamFormat{}, ErrNoFormat
}
