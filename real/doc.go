// Package real provides the production V4L2 device for m2mencoder.
//
// V4L2Device implements interfaces.IDevice on top of the Linux V4L2
// multi-planar memory-to-memory API using raw ioctls from
// golang.org/x/sys/unix. It is the counterpart of the simulated device in
// the testing package; the factory package chooses between the two.
//
// # Device Selection
//
// When DeviceConfig.DevicePath is set, only that node is opened. Otherwise
// every /dev/video* node is probed with VIDIOC_QUERYCAP and VIDIOC_ENUM_FMT
// and the first M2M node producing the requested codec is used:
//
//	dev := real.NewV4L2Device(&interfaces.DeviceConfig{
//	    DevicePath:  "/dev/video11",
//	    PollTimeout: 100 * time.Millisecond,
//	})
//	if err := dev.Open(v4l2.PixFmtH264); err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
// # Memory
//
// MMAP buffers are mapped on MapBuffer and unmapped when the queue is
// reallocated or the device is closed. USERPTR memory is pinned from
// QueueBuffer until the buffer is dequeued or the queue is stopped.
// DMABUF planes pass the file descriptor through unchanged.
//
// # Polling
//
// Poll waits on the device and an eventfd together. Interrupt signals the
// eventfd so a blocked Poll returns false without an error.
//
// # Platform Support
//
// The ioctl structure layouts are defined for linux/amd64 and linux/arm64.
// On every other platform V4L2Device exists but each operation returns
// interfaces.ErrUnsupported.
package real
