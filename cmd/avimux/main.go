// Command avimux is a small end-to-end driver for the avi package: it
// either writes a synthetic demo AVI file or inspects an existing one
// and prints a summary.
//
// The two subcommands mirror the pack's own CLI shapes:
// charlescerisier-avixer/examples/basic_usage.go's AddStream/write loop
// for "write", and charlescerisier-avixer/cmd/avixer/main.go's
// flag-driven analyze command (JSON/text output) for "probe", which
// takes -i (input) and -f (format) flags.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/teocci/go-avimux/avi"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "write":
		runWrite(os.Args[2:])
	case "probe":
		runProbe(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <write|probe> [options]\n", os.Args[0])
}

func runWrite(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	out := fs.String("o", "out.avi", "output AVI file")
	width := fs.Int("width", 320, "frame width")
	height := fs.Int("height", 240, "frame height")
	fps := fs.Float64("fps", 25, "frame rate")
	frames := fs.Int("frames", 75, "number of frames to write")
	withIndex1 := fs.Bool("idx1", true, "emit a legacy idx1 index")
	fs.Parse(args)

	if err := writeDemo(*out, *width, *height, *fps, *frames, *withIndex1); err != nil {
		log.Fatalf("avimux write: %v", err)
	}
	fmt.Printf("wrote %s\n", *out)
}

func writeDemo(path string, width, height int, fps float64, frameCount int, index1 bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	m, err := avi.NewMuxer(f, avi.Options{EmitIndex1: index1})
	if err != nil {
		return fmt.Errorf("new muxer: %w", err)
	}

	video, err := avi.NewVideoStream(width, height, 24, fps)
	if err != nil {
		return fmt.Errorf("new video stream: %w", err)
	}
	if _, err := m.AddVideoStream(video); err != nil {
		return fmt.Errorf("add video stream: %w", err)
	}

	frame := make([]byte, width*height*3)
	for i := 0; i < frameCount; i++ {
		fill(frame, byte(i))
		if err := m.WriteVideoFrame(video, i == 0, frame); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}

	return m.Close()
}

func fill(buf []byte, v byte) {
	for i := range buf {
		buf[i] = v
	}
}

func runProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	in := fs.String("i", "", "input AVI file")
	format := fs.String("f", "text", "output format (json, text)")
	fs.Parse(args)

	if *in == "" {
		fmt.Fprintln(os.Stderr, "probe: -i is required")
		os.Exit(1)
	}

	f, err := os.Open(*in)
	if err != nil {
		log.Fatalf("avimux probe: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Fatalf("avimux probe: %v", err)
	}

	summary, err := avi.Probe(f, info.Size())
	if err != nil {
		log.Fatalf("avimux probe: %v", err)
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Fatalf("avimux probe: %v", err)
		}
	default:
		fmt.Printf("streams:    %d\n", summary.StreamCount)
		fmt.Printf("duration:   %s\n", summary.Duration)
		fmt.Printf("riff chain: %d\n", summary.RIFFChain)
		fmt.Printf("has idx1:   %t\n", summary.HasIndex1)
		fmt.Printf("frames:     %d\n", summary.TotalFrames)
	}
}
