//go:build linux

package usbfs

import (
	"golang.org/x/sys/unix"

	"github.com/mathisloge/usb-asio/pkg"
)

// reaper watches a usbfs file descriptor with epoll and drains completed
// URBs. The kernel marks the descriptor writable when completions are
// ready to reap.
type reaper struct {
	epfd   int // epoll instance
	wakefd int // eventfd for shutdown wakeup
	fd     int // usbfs device descriptor
	done   chan struct{}
}

// newReaper creates the epoll instance and registers the device and wake
// descriptors.
func newReaper(fd int) (*reaper, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	r := &reaper{epfd: epfd, wakefd: wakefd, fd: fd, done: make(chan struct{})}

	events := []struct {
		fd     int
		events uint32
	}{
		{wakefd, unix.EPOLLIN},
		{fd, unix.EPOLLOUT},
	}
	for _, e := range events {
		ev := unix.EpollEvent{Events: e.events, Fd: int32(e.fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, e.fd, &ev); err != nil {
			unix.Close(wakefd)
			unix.Close(epfd)
			return nil, err
		}
	}
	return r, nil
}

// stop wakes the reap loop and waits for it to observe shutdown.
func (r *reaper) stop() {
	close(r.done)
	var buf [8]byte
	buf[0] = 1
	unix.Write(r.wakefd, buf[:])
}

// run is the completion loop. It blocks in epoll_wait until the device has
// completions to reap or stop is called, and dispatches each reaped URB's
// callback on this goroutine.
func (r *reaper) run(d *Device) {
	defer func() {
		unix.Close(r.wakefd)
		unix.Close(r.epfd)
	}()

	var events [maxEpollEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(r.epfd, events[:], -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			pkg.LogError(pkg.ComponentNative, "epoll wait failed", "err", err)
			return
		}

		select {
		case <-r.done:
			r.drain(d)
			return
		default:
		}

		for i := 0; i < n; i++ {
			ev := &events[i]
			if int(ev.Fd) == r.wakefd {
				var buf [8]byte
				unix.Read(r.wakefd, buf[:])
				continue
			}

			r.drain(d)

			// ERR/HUP without reapable URBs means the device left the bus.
			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				pkg.LogWarn(pkg.ComponentNative, "device gone", "fd", r.fd)
				d.failAll(pkg.TransferStatusNoDevice)
			}
		}
	}
}

// drain reaps completed URBs until the kernel has none left, settling each
// one's transfer.
func (r *reaper) drain(d *Device) {
	for {
		u, err := reapURBNDelay(r.fd)
		if err != nil {
			if !isAgain(err) && isNoDevice(err) {
				d.failAll(pkg.TransferStatusNoDevice)
			}
			return
		}

		b := d.take(u)
		if b == nil {
			pkg.LogWarn(pkg.ComponentNative, "reaped unknown URB")
			continue
		}
		b.settle(statusOf(u.status, b.timedOut.Load()))
	}
}
