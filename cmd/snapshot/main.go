package main

import (
	"flag"
	"os"
	"time"

	"pi-timelapse/pkg/camera"
	"pi-timelapse/pkg/config"
	"pi-timelapse/pkg/utils"
)

var (
	device     = flag.String("device", camera.DefaultDevice, "v4l2 device")
	command    = flag.String("command", "", "external still tool, e.g. \"libcamera-still -n -o {output} --width {width} --height {height}\"")
	resolution = flag.String("resolution", "1920x1080", "WxH")
	output     = flag.String("o", "snapshot.jpeg", "output file")
)

// snapshot takes one frame with the same settings a session would use, to
// check focus and framing before leaving the camera alone.
func main() {
	flag.Parse()
	logger := utils.GetLogger()
	defer logger.Sync()

	res, err := config.ParseResolution(*resolution)
	if err != nil {
		logger.Fatal(err)
	}
	dev, err := camera.Open(config.Camera{Device: *device, Command: *command}, res)
	if err != nil {
		logger.Fatal(err)
	}
	defer dev.Close()

	start := time.Now()
	if err = dev.Capture(*output); err != nil {
		logger.Errorf("capture failed: %s", err)
		os.Exit(1)
	}
	logger.Infof("saved %s (%s) in %s", *output, res, time.Since(start).Round(time.Millisecond))
}
