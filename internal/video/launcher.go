// Package video implements frame consumers that stream normalized raw frames
// into an external ffmpeg or ffplay process.
package video

import (
	"context"
	"errors"
	"io"

	"github.com/jmylchreest/framecast/internal/ffmpeg"
)

// ErrLaunch is returned when the external process could not be started.
var ErrLaunch = errors.New("launching subprocess")

// Pipe is the writable standard input of a launched process. Close waits for
// the process to exit.
type Pipe interface {
	io.WriteCloser
	PID() int
}

// Launcher starts a command and returns a pipe to its standard input.
type Launcher interface {
	Launch(ctx context.Context, cmd *ffmpeg.Command) (Pipe, error)
}

// ExecLauncher launches real processes. The process outlives ctx: it is
// stopped only by closing its pipe.
type ExecLauncher struct{}

// Launch implements Launcher.
func (ExecLauncher) Launch(_ context.Context, cmd *ffmpeg.Command) (Pipe, error) {
	pipe, err := cmd.StartWithStdin()
	if err != nil {
		return nil, err
	}
	return pipe, nil
}

// processStatser is implemented by pipes that can report resource usage.
type processStatser interface {
	ProcessStats() *ffmpeg.ProcessStats
}

// stderrTailer is implemented by pipes that keep the recent stderr output of
// their process.
type stderrTailer interface {
	StderrLines() []string
}
