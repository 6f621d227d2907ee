package kernel

import (
	"fmt"
	"io"
	"os"
)

// formatted console output -- printf, panic.

var pr struct {
	lock    Spinlock
	console io.Writer
}

func init() {
	initlock(&pr.lock, "pr")
	pr.console = os.Stdout
}

// SetConsole redirects kernel output, the way the uart is wired at boot.
func SetConsole(w io.Writer) {
	pr.lock.Acquire()
	pr.console = w
	pr.lock.Release()
}

// Printf writes to the console. Lines from different harts never interleave.
func Printf(format string, args ...any) {
	pr.lock.Acquire()
	fmt.Fprintf(pr.console, format, args...)
	pr.lock.Release()
}

// Halt is the value raised by Panic. It stops the calling hart for good;
// nothing in the kernel recovers it.
type Halt string

func (h Halt) Error() string { return "panic: " + string(h) }

// Panic reports an unrecoverable condition (a broken caller contract or a
// hard resource wall) and halts.
func Panic(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Printf("panic: %s\n", msg)
	panic(Halt(msg))
}
