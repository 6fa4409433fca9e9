package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/hubertat/airkit"
	"github.com/hubertat/airkit/drivers"
)

var (
	Version string
	Build   string
)

func main() {
	var err error

	log.Println("airkit started")
	log.Println("mock instance for testing purposes, no hardware required")

	tickDuration := 50 * time.Millisecond
	log.Println("tickDuration is ", tickDuration)

	ak := &airkit.AirKit{
		Name:           "airkit-mock",
		FanPin:         1,
		CalibrationPin: 2,
		Simulate:       true,
		FakeDriver:     &drivers.MockIoDriver{},
		HkPin:          "88008800",
		HkDirectory:    "./mock_homekit",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("will init airkit drivers...")
	err = ak.InitDrivers(ctx)
	defer ak.Close()
	if err != nil {
		panic(err)
	}

	log.Println("will init airkit sensors...")
	err = ak.InitSensors()
	if err != nil {
		panic(err)
	}

	ak.FakeDriver.MonitorStateChanges(os.Stdout)

	log.Println("starting mock with HomeKit service")

	go ak.Run(ctx, tickDuration)

	log.Fatal(ak.StartHomeKit(ctx))
}
