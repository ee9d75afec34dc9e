package cli

import (
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// NewProgress returns a progress bar on w. A negative max shows a spinner
// with a running count. When visible is false the bar renders nothing but
// still counts.
func NewProgress(w io.Writer, max int, description string, visible bool) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)
}
