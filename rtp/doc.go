// Package rtp streams encoded H.264 access units over RTP.
//
// It uses the pion/rtp library for the packet format and the RFC 6184
// payload format. H264Packetizer turns the Annex-B output of the encoder
// into packets, Sender writes them to a UDP socket and H264Depacketizer
// rebuilds access units on the receiving side.
//
//	sender, err := rtp.DialUDP("127.0.0.1:5004", rtp.DefaultMTU, rtp.DefaultPayloadType)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sender.Close()
//
//	err = sender.WriteFrame(annexB, metadata.Timestamp)
//
// Timestamps use the 90 kHz video clock offset by a random per-stream base.
// SPS and PPS are aggregated into a single STAP-A packet sent in front of
// the slice that follows them.
package rtp
