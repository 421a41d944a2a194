package audio

import "github.com/saker-ai/xiaozhi-client/pkg/audio/opusx"

// EncoderOptions tunes new opus encoders. Zero values keep the library defaults.
type EncoderOptions struct {
	Bitrate    int
	Complexity int
}

func (o EncoderOptions) apply(enc *opusx.Encoder) error {
	if enc == nil {
		return nil
	}
	if o.Bitrate > 0 {
		if err := enc.SetBitrate(o.Bitrate); err != nil {
			return err
		}
	}
	if o.Complexity > 0 {
		if err := enc.SetComplexity(o.Complexity); err != nil {
			return err
		}
	}
	return nil
}

// OpusBackend names the opus implementation, for startup logs.
func OpusBackend() string {
	return opusx.Backend()
}
