package device

import (
	"sync"
	"time"

	"github.com/opd-ai/m2mencoder/interfaces"
	"github.com/sirupsen/logrus"
)

// Poller waits for device readiness on its own goroutine.
//
// Each SchedulePoll arms one wait; when the device reports a dequeueable
// buffer, onReady runs once and the poller idles until the next
// SchedulePoll. Timeouts re-arm the wait without calling back.
type Poller struct {
	dev     interfaces.IDevice
	timeout time.Duration

	mu       sync.Mutex
	running  bool
	schedule chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

// NewPoller creates a poller with the given single-wait timeout.
func NewPoller(dev interfaces.IDevice, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	return &Poller{dev: dev, timeout: timeout}
}

// StartPolling starts the poll goroutine and arms the first wait. onError is
// called once when Poll fails; the goroutine exits afterwards.
func (p *Poller) StartPolling(onReady func(), onError func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPollerRunning
	}
	p.running = true
	p.schedule = make(chan struct{}, 1)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.schedule <- struct{}{}

	go p.run(onReady, onError, p.schedule, p.stop, p.done)

	logrus.WithFields(logrus.Fields{
		"function": "Poller.StartPolling",
		"timeout":  p.timeout,
	}).Info("Device poll started")
	return nil
}

// SchedulePoll arms the next wait. Extra calls before the wait starts
// collapse into one.
func (p *Poller) SchedulePoll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	select {
	case p.schedule <- struct{}{}:
	default:
	}
}

// IsPolling reports whether the poll goroutine is running.
func (p *Poller) IsPolling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// StopPolling stops the goroutine and waits for it to exit. It must not be
// called from onReady or onError.
func (p *Poller) StopPolling() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	if err := p.dev.Interrupt(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Poller.StopPolling",
			"error":    err.Error(),
		}).Warn("Failed to interrupt device poll")
	}
	<-done

	logrus.WithFields(logrus.Fields{
		"function": "Poller.StopPolling",
	}).Info("Device poll stopped")
}

func (p *Poller) run(onReady func(), onError func(error), schedule, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-schedule:
		}

		for {
			select {
			case <-stop:
				return
			default:
			}

			ready, err := p.dev.Poll(p.timeout)
			if err != nil {
				select {
				case <-stop:
					return
				default:
				}
				logrus.WithFields(logrus.Fields{
					"function": "Poller.run",
					"error":    err.Error(),
				}).Error("Device poll failed")
				onError(err)
				return
			}
			if ready {
				onReady()
				break
			}
		}
	}
}
