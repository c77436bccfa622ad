package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// interruptHandler cancels the running command on the first interrupt. A
// second interrupt exits right away.
type interruptHandler struct {
	signals chan os.Signal
	quit    chan struct{}
	cancel  context.CancelFunc
}

// interceptInterrupts starts the handler and returns the context the command
// runs under.
func interceptInterrupts() (context.Context, *interruptHandler) {
	ctx, cancel := context.WithCancel(context.Background())

	h := &interruptHandler{
		signals: make(chan os.Signal, 1),
		quit:    make(chan struct{}),
		cancel:  cancel,
	}
	signal.Notify(h.signals, os.Interrupt, syscall.SIGTERM,
		syscall.SIGQUIT)

	go h.run()

	return ctx, h
}

func (h *interruptHandler) run() {
	var interrupted bool
	for {
		select {
		case sig := <-h.signals:
			if interrupted {
				log.Warnf("Received %v again, exiting", sig)
				fatal(context.Canceled)
			}
			interrupted = true

			log.Infof("Received %v, stopping the command", sig)
			h.cancel()

		case <-h.quit:
			return
		}
	}
}

// stop uninstalls the handler.
func (h *interruptHandler) stop() {
	signal.Stop(h.signals)
	close(h.quit)
	h.cancel()
}
