package audio

type opusEncoderKey struct {
	sampleRate    int
	channels      int
	frameDuration int
	opts          EncoderOptions
}

var opusEncoders = newKeyedPool[opusEncoderKey, *OpusEncoder]()

func (e *OpusEncoder) poolKey() opusEncoderKey {
	return opusEncoderKey{sampleRate: e.sampleRate, channels: e.channels, frameDuration: e.frameDuration, opts: e.opts}
}

// AcquireOpusEncoder reuses encoders keyed by format and options, so a
// reconnect does not pay for a fresh encoder.
func AcquireOpusEncoder(sampleRate, channels, frameDurationMs int, opts EncoderOptions) (*OpusEncoder, error) {
	key := opusEncoderKey{sampleRate: sampleRate, channels: channels, frameDuration: frameDurationMs, opts: opts}
	if enc, ok := opusEncoders.get(key); ok && enc.encoder != nil {
		return enc, nil
	}
	return NewOpusEncoder(sampleRate, channels, frameDurationMs, opts)
}

// ReleaseOpusEncoder resets enc and returns it to its pool. An encoder that
// fails to reset is dropped.
func ReleaseOpusEncoder(enc *OpusEncoder) {
	if enc == nil {
		return
	}
	enc.mutex.Lock()
	ok := enc.encoder != nil && enc.encoder.Reset() == nil
	enc.mutex.Unlock()
	if ok {
		opusEncoders.put(enc.poolKey(), enc)
	}
}
