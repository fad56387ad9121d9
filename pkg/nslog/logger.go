// Package nslog provides the named, colourised loggers shared by every
// component of the namespace fabric.
package nslog

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var mu sync.Mutex
var loggers = make(map[string]*Logger)

// Logger wraps a logrus.Logger with the component name baked into every line.
type Logger struct {
	logrus.Logger

	name string
	lvl  *logrus.Level
	tty  bool
}

func (l *Logger) Format(e *logrus.Entry) ([]byte, error) {
	lvl := e.Level
	if l.lvl != nil {
		lvl = *l.lvl
	}
	lvlStr := strings.ToUpper(lvl.String())
	if l.tty {
		var color int
		switch lvl {
		case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
			color = 31 // RED
		case logrus.WarnLevel:
			color = 33 // YELLOW
		case logrus.InfoLevel:
			color = 34 // BLUE
		default: // logrus.TraceLevel, logrus.DebugLevel
			color = 35 // MAGENTA
		}
		lvlStr = fmt.Sprintf("\033[1;%dm%s\033[0m", color, lvlStr)
	}
	const timeFormat = "2006/01/02 15:04:05.000000"
	str := fmt.Sprintf("%v %s[%d] <%v>: %v",
		e.Time.Format(timeFormat), l.name, os.Getpid(), lvlStr, e.Message)
	if len(e.Data) != 0 {
		str += " " + fmt.Sprint(e.Data)
	}
	str += "\n"
	return []byte(str), nil
}

func newLogger(name string) *Logger {
	l := &Logger{Logger: *logrus.New(), name: name, tty: isatty.IsTerminal(os.Stderr.Fd())}
	l.Formatter = l
	return l
}

// Get returns the logger registered for name, creating it on first use.
func Get(name string) *Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[name]; ok {
		return l
	}
	l := newLogger(name)
	loggers[name] = l
	return l
}

// SetLevel sets the level of every registered logger.
func SetLevel(lvl logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		l.Level = lvl
	}
}

// DisableColor turns off tty colouring for every registered logger, for use
// when output is redirected to a file or syslog.
func DisableColor() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		l.tty = false
	}
}

// SetOutFile redirects every registered logger to the named file.
func SetOutFile(name string) error {
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		l.SetOutput(file)
		l.tty = false
	}
	return nil
}
