package cmd

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"grimm.is/npfkit/internal/ctlplane"
	"grimm.is/npfkit/internal/i18n"
	"grimm.is/npfkit/internal/npf"
)

// Printer is the global message printer for the CLI
var Printer = i18n.NewCLIPrinter()

// stdout receives command output. Tests swap it for a buffer.
var stdout io.Writer = os.Stdout

// requestTimeout bounds every exchange with the engine.
const requestTimeout = 10 * time.Second

// newClient connects to the engine. Tests replace it with a mock factory.
var newClient = func() (ctlplane.ControlPlaneClient, error) {
	c, err := ctlplane.Connect()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// withClient runs fn against a fresh engine connection and decorates
// engine-side failures with their source location.
func withClient(fn func(c ctlplane.ControlPlaneClient) error) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	err = fn(c)
	var pe *npf.PeerError
	if errors.As(err, &pe) && pe.SourceFile != "" {
		Printer.Fprintf(os.Stderr, i18n.MsgPeerError, pe.Code, pe.SourceFile, pe.SourceLine)
	}
	return err
}

func usageError(usage string) error {
	return fmt.Errorf("%w: usage: %s", npf.ErrInvalidArgument, usage)
}

func count[T any](seq iter.Seq[T]) int {
	n := 0
	for range seq {
		n++
	}
	return n
}
