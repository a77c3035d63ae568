// Package config loads m2menc run configurations from YAML.
//
// A file has three sections; every key is optional and falls back to
// Default:
//
//	device:
//	  simulation: false
//	  path: /dev/video11
//	  poll_timeout_ms: 100
//	encoder:
//	  input_format: NV12
//	  width: 1280
//	  height: 720
//	  profile: h264-main
//	  bitrate: 4000000
//	  framerate: 30
//	  gop_length: 60
//	output:
//	  path: out.h264
//	  rtp_addr: 127.0.0.1:5004
//	  buffers: 4
//
// Unknown keys are rejected so typos surface as errors.
package config
