package airkit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
)

const httpTimeoutsMs = 3000

type statusResponse struct {
	State            string `json:"state"`
	FanOn            bool   `json:"fan_on"`
	Calibrating      bool   `json:"calibrating"`
	CalibrationPhase string `json:"calibration_phase"`
	BarometerOnline  bool   `json:"barometer_online"`
}

// StartHttp exposes the controller over a small local REST surface:
// readings and status to read, calibration and fan commands to post.
// Commands go through the same queue as every other channel.
func (ak *AirKit) StartHttp() error {
	if len(ak.HttpAddr) == 0 {
		return errors.New("http address not set")
	}

	handler := httprouter.New()
	handler.GET("/reading", ak.handleGetReading)
	handler.GET("/status", ak.handleGetStatus)
	handler.POST("/calibrate", ak.handlePostCalibrate)
	handler.POST("/fan/:state", ak.handlePostFan)

	httpTimeout := httpTimeoutsMs * time.Millisecond

	server := &http.Server{
		Addr:              ak.HttpAddr,
		Handler:           handler,
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			ak.logger.Error("http server stopped", "err", err)
		}
	}()

	return nil
}

func (ak *AirKit) handleGetReading(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ak.LastReading())
}

func (ak *AirKit) handleGetStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := statusResponse{
		State:            ak.Sensors.GetSystemState().String(),
		FanOn:            ak.Sensors.GetFanState(),
		Calibrating:      ak.Calibration.IsCalibrating(),
		CalibrationPhase: ak.Calibration.Phase().String(),
		BarometerOnline:  ak.Sensors.BarometerConnected(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (ak *AirKit) handlePostCalibrate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ak.Command(CommandStartCalibration)
	w.WriteHeader(http.StatusAccepted)
}

func (ak *AirKit) handlePostFan(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	switch p.ByName("state") {
	case "on":
		ak.Command(CommandFanOn)
	case "off":
		ak.Command(CommandFanOff)
	default:
		http.Error(w, "fan state must be on or off", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
