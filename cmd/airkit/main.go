package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/hubertat/servicemaker"

	"github.com/hubertat/airkit"
)

const defaultTickInterval = "50ms"

var (
	Version string
	Build   string

	config       = flag.String("config", "config.json", "path of the configuration file")
	flagInstall  = flag.Bool("install", false, "Install service in os")
	tickInterval = flag.String("tick", defaultTickInterval, "controller tick interval (time.Duration)")

	airkitService = servicemaker.ServiceMaker{
		User:               "airkit",
		UserGroups:         []string{"gpio", "i2c", "dialout"},
		ServicePath:        "/etc/systemd/system/airkit.service",
		ServiceDescription: "airkit service: environmental sensor controller with remote CO2 calibration. github.com/hubertat/airkit",
		ExecDir:            "/srv/airkit",
		ExecName:           "airkit",
	}
)

func main() {
	log.Printf("airkit %s started\n", Version)
	flag.Parse()

	if *flagInstall {
		err := airkitService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Println("service installed!")
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tickDuration, err := time.ParseDuration(*tickInterval)
	if err != nil {
		panic(err)
	}

	ak := &airkit.AirKit{}
	configFile, err := os.Open(*config)
	if err == nil {
		cBuff, err := io.ReadAll(configFile)
		if err != nil {
			log.Fatalf("failed reading config file: %v\n", err)
		}

		err = json.Unmarshal(cBuff, ak)
		if err != nil {
			log.Fatalf("failed unmarshalling json config: %v", err)
		}
	} else {
		log.Fatalf("can't find/open config file (%s), will terminate. Reason: \n%v\n", *config, err)
	}

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

	if ak.Influx != nil {
		err = ak.Influx.Setup()
		if err != nil {
			log.Printf("influx publisher setup failed, proceeding without: %v\n", err)
			ak.Influx = nil
		}
	}

	if len(ak.MqttBroker) > 0 {
		err = ak.InitMqtt()
		if err != nil {
			log.Printf("mqtt setup failed, proceeding without: %v\n", err)
		}
	}

	if len(ak.HttpAddr) > 0 {
		err = ak.StartHttp()
		if err != nil {
			log.Printf("http server setup failed, proceeding without: %v\n", err)
		}
	}

	if len(ak.HkPin) == 8 {
		log.Println("Starting with HomeKit server")

		go ak.Run(ctx, tickDuration)
		log.Fatal(ak.StartHomeKit(ctx))
	} else {
		log.Println("HomeKit not configured, disabled")
		ak.Run(ctx, tickDuration)
	}
}
