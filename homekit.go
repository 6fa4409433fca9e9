package airkit

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	hklog "github.com/brutella/hap/log"
	"github.com/brutella/hap/service"
	"github.com/pkg/errors"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "airkit"
const homeKitBridgeAuthor = "github.com/hubertat"

// co2DetectedThreshold is the ppm level above which the HomeKit sensor
// reports an abnormal CO2 level.
const co2DetectedThreshold = 1500

type hkAccessories struct {
	thermometer *accessory.Thermometer
	humidity    *accessory.A
	co2         *accessory.A
	fan         *accessory.Switch

	humiditySvc *service.HumiditySensor
	co2Svc      *service.CarbonDioxideSensor
	co2Level    *characteristic.CarbonDioxideLevel

	thermometerFault *characteristic.StatusFault
	humidityFault    *characteristic.StatusFault
	co2Fault         *characteristic.StatusFault
}

func (ak *AirKit) buildHkAccessories() []*accessory.A {
	hk := &hkAccessories{}
	ak.hk = hk

	hk.thermometer = accessory.NewTemperatureSensor(accessory.Info{
		Name:         "Temperature",
		SerialNumber: "airkit:temperature:" + ak.nodeName(),
	})
	hk.thermometerFault = characteristic.NewStatusFault()
	hk.thermometerFault.SetValue(characteristic.StatusFaultGeneralFault)
	hk.thermometer.TempSensor.AddC(hk.thermometerFault.C)

	hk.humidity = accessory.New(accessory.Info{
		Name:         "Humidity",
		SerialNumber: "airkit:humidity:" + ak.nodeName(),
	}, accessory.TypeSensor)
	hk.humiditySvc = service.NewHumiditySensor()
	hk.humidityFault = characteristic.NewStatusFault()
	hk.humidityFault.SetValue(characteristic.StatusFaultGeneralFault)
	hk.humiditySvc.AddC(hk.humidityFault.C)
	hk.humidity.AddS(hk.humiditySvc.S)

	hk.co2 = accessory.New(accessory.Info{
		Name:         "CO2",
		SerialNumber: "airkit:co2:" + ak.nodeName(),
	}, accessory.TypeSensor)
	hk.co2Svc = service.NewCarbonDioxideSensor()
	hk.co2Level = characteristic.NewCarbonDioxideLevel()
	hk.co2Svc.AddC(hk.co2Level.C)
	hk.co2Fault = characteristic.NewStatusFault()
	hk.co2Fault.SetValue(characteristic.StatusFaultGeneralFault)
	hk.co2Svc.AddC(hk.co2Fault.C)
	hk.co2.AddS(hk.co2Svc.S)

	hk.fan = accessory.NewSwitch(accessory.Info{
		Name:         "Fan",
		SerialNumber: "airkit:fan:" + ak.nodeName(),
	})
	hk.fan.Switch.On.OnValueRemoteUpdate(func(on bool) {
		if on {
			ak.Command(CommandFanOn)
		} else {
			ak.Command(CommandFanOff)
		}
	})

	return []*accessory.A{hk.thermometer.A, hk.humidity, hk.co2, hk.fan.A}
}

// updateHomeKit pushes the latest reading into the accessories. Sentinel
// fields flip the matching status fault instead of publishing a bogus value.
func (ak *AirKit) updateHomeKit(reading SensorReading) {
	if ak.hk == nil {
		return
	}

	if reading.Temperature == SentinelValue && reading.Humidity == SentinelValue {
		ak.hk.thermometerFault.SetValue(characteristic.StatusFaultGeneralFault)
		ak.hk.humidityFault.SetValue(characteristic.StatusFaultGeneralFault)
	} else {
		ak.hk.thermometerFault.SetValue(characteristic.StatusFaultNoFault)
		ak.hk.humidityFault.SetValue(characteristic.StatusFaultNoFault)
		ak.hk.thermometer.TempSensor.CurrentTemperature.SetValue(reading.Temperature)
		ak.hk.humiditySvc.CurrentRelativeHumidity.SetValue(reading.Humidity)
	}

	if reading.Co2Ppm == SentinelValue {
		ak.hk.co2Fault.SetValue(characteristic.StatusFaultGeneralFault)
	} else {
		ak.hk.co2Fault.SetValue(characteristic.StatusFaultNoFault)
		ak.hk.co2Level.SetValue(float64(reading.Co2Ppm))
		if reading.Co2Ppm >= co2DetectedThreshold {
			ak.hk.co2Svc.CarbonDioxideDetected.SetValue(characteristic.CarbonDioxideDetectedCO2LevelsAbnormal)
		} else {
			ak.hk.co2Svc.CarbonDioxideDetected.SetValue(characteristic.CarbonDioxideDetectedCO2LevelsNormal)
		}
	}

	ak.hk.fan.Switch.On.SetValue(ak.Sensors.GetFanState())
}

// StartHomeKit serves the accessories until the context is cancelled or an
// interrupt arrives.
func (ak *AirKit) StartHomeKit(ctx context.Context) error {
	bridge := accessory.NewBridge(accessory.Info{
		Name:         ak.nodeName(),
		Manufacturer: homeKitBridgeAuthor,
	})

	var store hap.Store
	if len(ak.HkDirectory) > 1 {
		store = hap.NewFsStore(ak.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}

	hkServer, err := hap.NewServer(store, bridge.A, ak.buildHkAccessories()...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = ak.HkPin
	if len(ak.HkAddress) > 0 {
		hkServer.Addr = ak.HkAddress
	}

	if ak.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-c
		signal.Stop(c)
		cancel()
	}()

	return hkServer.ListenAndServe(ctx)
}
