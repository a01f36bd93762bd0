package format

import (
	"context"
	"io"

	"github.com/rongdian/mvekit/mve"
)

func init() {
	Register(&Input{
		Name:       "mve",
		LongName:   "Interplay MVE",
		Extensions: []string{"mve"},
		Probe:      mve.Probe,
		Open: func(ctx context.Context, rs io.ReadSeeker) (Demuxer, error) {
			d, err := mve.NewDemuxer(ctx, rs)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	})
}
