package speaker

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// otoOutput feeds a persistent oto player through a pipe. Writes block until
// the player has consumed them, which paces the caller at real time.
type otoOutput struct {
	player *oto.Player
	reader *io.PipeReader
	writer *io.PipeWriter
}

// OpenDevice opens the default audio device for mono PCM16 at sampleRate.
// oto allows one context per process, so later calls must use the same rate.
func OpenDevice(sampleRate int) (io.WriteCloser, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("open audio device: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	if otoErr != nil {
		return nil, otoErr
	}

	reader, writer := io.Pipe()
	player := otoCtx.NewPlayer(reader)
	player.Play()
	return &otoOutput{player: player, reader: reader, writer: writer}, nil
}

func (o *otoOutput) Write(p []byte) (int, error) {
	return o.writer.Write(p)
}

func (o *otoOutput) Close() error {
	_ = o.writer.Close()
	err := o.player.Close()
	_ = o.reader.Close()
	return err
}
