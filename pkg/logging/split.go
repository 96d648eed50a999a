package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// splitHook writes entries of its levels to its own output.
type splitHook struct {
	output io.Writer
	levels []logrus.Level
}

func (h *splitHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	_, err = h.output.Write([]byte(line))
	return err
}

func (h *splitHook) Levels() []logrus.Level {
	return h.levels
}

// SplitConsole sends errors and worse to stderr and everything else to
// stdout, so a service manager capturing both can tell them apart.
func SplitConsole() Setter {
	return splitConsole(os.Stdout, os.Stderr)
}

func splitConsole(stdout, stderr io.Writer) Setter {
	return func(r *logrus.Logger) error {
		r.SetOutput(io.Discard)
		r.AddHook(&splitHook{stdout, []logrus.Level{
			logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel}})
		r.AddHook(&splitHook{stderr, []logrus.Level{
			logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}})
		return nil
	}
}
