// Package v4l2 defines the vocabulary shared by every layer that talks to a
// memory-to-memory (M2M) video encoding device.
//
// The values here mirror include/uapi/linux/videodev2.h: pixel format
// fourccs, buffer types, memory types, buffer flags, encoder commands and
// codec control IDs. Kernel-shaped value types (Format, PlaneFormat, Rect,
// Buffer, Plane, ExtCtrl) let the device contract in package interfaces be
// expressed without any dependency on syscall plumbing, so the same types
// serve the real Linux binding and the in-memory simulation.
//
// # Multi-planar formats
//
// An encoder's raw input can be stored contiguously (one memory plane that
// holds every color plane, for example NV12) or non-contiguously (one memory
// plane per color plane, for example NV12M). Fourcc.NumPlanes reports the
// number of memory planes the device expects in a queued buffer and
// Fourcc.NumColorPlanes the number of color planes in the image:
//
//	v4l2.PixFmtNV12.NumPlanes()       // 1
//	v4l2.PixFmtNV12M.NumPlanes()      // 2
//	v4l2.PixFmtNV12.NumColorPlanes()  // 2
//
// This package has no dependencies beyond the standard library.
package v4l2
