//go:build (linux && cgo) || windows || darwin

package output

import (
	"context"
	"fmt"
	"log"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/satindergrewal/twindeck/internal/audio"
	"github.com/satindergrewal/twindeck/internal/stream"
)

// Play monitors the master bus on the default audio device until ctx ends.
func Play(ctx context.Context, b *stream.Broadcaster) error {
	if err := speaker.Init(beep.SampleRate(audio.SampleRate), audio.SampleRate/10); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	defer speaker.Close()

	l := b.SubscribeBuffered(25)
	defer b.Unsubscribe(l)

	s := newFrameStreamer(l.C, l.Done())
	speaker.Play(s)
	log.Printf("Speaker output started (%d Hz)", audio.SampleRate)

	<-ctx.Done()
	speaker.Clear()
	log.Printf("Speaker output stopped (%d underruns, %d dropped frames)", s.under.Load(), l.Dropped())
	return nil
}
