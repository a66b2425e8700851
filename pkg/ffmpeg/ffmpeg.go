// Package ffmpeg builds and runs ffmpeg and ffprobe commands.
package ffmpeg

// Command represents an ffmpeg command being built.
type Command struct {
	input     string
	output    string
	preInput  []string // args before -i
	postInput []string // args after -i
}

// Option modifies a Command. Options are composable and order-independent
// (ffmpeg will receive args in correct order regardless of option order).
type Option interface {
	Apply(cmd *Command)
}

// OptionFunc is a function that implements Option.
type OptionFunc func(cmd *Command)

// Apply implements Option.
func (f OptionFunc) Apply(cmd *Command) { f(cmd) }

// NewCommand creates a command with input/output and applies options.
func NewCommand(input, output string, opts ...Option) *Command {
	cmd := &Command{
		input:  input,
		output: output,
	}
	for _, opt := range opts {
		opt.Apply(cmd)
	}
	return cmd
}

// Build returns the complete ffmpeg argument list.
func (c *Command) Build() []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	args = append(args, c.preInput...)
	args = append(args, "-i", c.input)
	args = append(args, c.postInput...)

	return append(args, c.output)
}

// PixelFormat sets the pixel format (-pix_fmt).
func PixelFormat(fmt string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-pix_fmt", fmt)
	})
}

// Format forces the output container or muxer (-f).
func Format(name string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-f", name)
	})
}

// NoAudio disables audio in output (-an).
var NoAudio Option = OptionFunc(func(cmd *Command) {
	cmd.postInput = append(cmd.postInput, "-an")
})

// LogLevel sets the logging level.
func LogLevel(level string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.preInput = append([]string{"-loglevel", level}, cmd.preInput...)
	})
}
