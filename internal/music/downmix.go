package music

// Downmix reduces interleaved PCM to mono. Stereo pairs are averaged with
// integer truncation; a trailing unpaired sample is dropped. Any other
// channel count is returned unchanged.
func Downmix(pcm []int16, channels int) []int16 {
	if channels != 2 {
		return pcm
	}
	mono := make([]int16, len(pcm)/2)
	for i := range mono {
		mono[i] = int16((int32(pcm[2*i]) + int32(pcm[2*i+1])) / 2)
	}
	return mono
}
