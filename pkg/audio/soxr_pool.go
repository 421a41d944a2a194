package audio

import (
	resampler "github.com/godeps/go-audio-soxr"
)

type soxrKey struct {
	inRate  int
	outRate int
	quality resampler.QualityPreset
}

var soxrEngines = newKeyedPool[soxrKey, *resampler.SimpleResamplerFloat32]()

func acquireSoxr(key soxrKey) (*resampler.SimpleResamplerFloat32, error) {
	if r, ok := soxrEngines.get(key); ok {
		return r, nil
	}
	return resampler.NewEngineFloat32(float64(key.inRate), float64(key.outRate), key.quality)
}

func releaseSoxr(key soxrKey, r *resampler.SimpleResamplerFloat32) {
	if r == nil {
		return
	}
	r.Reset()
	soxrEngines.put(key, r)
}
