// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/rover_position/internal/calibration"
	"github.com/relabs-tech/rover_position/internal/config"
	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/decawave"
	"github.com/relabs-tech/rover_position/internal/imu"
	"github.com/relabs-tech/rover_position/internal/pump"
	"github.com/relabs-tech/rover_position/internal/sink"
)

// openIMU builds the IMU driver selected by the config.
func openIMU(cfg *config.Config) (imu.Driver, error) {
	// Output data rate with the DLPF enabled is 1 kHz / (1 + SMPLRT_DIV).
	rate := 1000 / (1 + float64(cfg.IMUSampleRateDiv))
	if cfg.IMUSimulate {
		log.Printf("imu: using simulated driver at %.1f Hz", rate)
		return imu.NewSimulatedDriver(rate)
	}

	var mag imu.Magnetometer
	if cfg.MagEnabled {
		hmc, err := imu.OpenHMC5983(cfg.MagI2CBus, cfg.MagI2CAddr, cfg.MagGain)
		if err != nil {
			return nil, err
		}
		mag = hmc
	}
	drv, err := imu.NewMPU9250Driver(imu.MPU9250Config{
		SPIDevice:     cfg.IMUSPIDevice,
		CSPin:         cfg.IMUCSPin,
		IntPin:        cfg.IMUIntPin,
		SpeedHz:       cfg.IMUSPISpeedHz,
		AccelRange:    cfg.IMUAccelRange,
		GyroRange:     cfg.IMUGyroRange,
		DLPF:          cfg.IMUDLPFConfig,
		SampleRateDiv: cfg.IMUSampleRateDiv,
		SelfTest:      cfg.IMUSelfTest,
	}, mag)
	if err != nil {
		if mag != nil {
			mag.Close()
		}
		return nil, err
	}
	log.Printf("imu: MPU9250 on %s at %.1f Hz", cfg.IMUSPIDevice, rate)
	return drv, nil
}

// startPump runs p in its own goroutine and reports its result on errs.
func startPump[T any](ctx context.Context, p *pump.Pump[T], out chan<- data.Data[T], errs chan<- error) {
	go func() {
		err := p.Run(ctx, out)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		errs <- err
	}()
}

// RunPositionService acquires IMU and UWB data, runs it through the filter
// chains and serves MQTT commands until quit, SIGINT or SIGTERM.
func RunPositionService() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}

	// --- calibration files ---
	imuScaler := calibration.NewImuScaler()
	if err := loadOrDefault(cfg.IMUCalibrationFile, imuScaler); err != nil {
		return fmt.Errorf("load IMU calibration: %w", err)
	}
	uwbCal := calibration.NewDecawaveCalibration()
	if err := loadOrDefault(cfg.DecawaveCalibrationFile, uwbCal); err != nil {
		return fmt.Errorf("load decawave calibration: %w", err)
	}
	layout := &calibration.AnchorLayout{}
	if err := loadOrDefault(cfg.AnchorFile, layout); err != nil {
		return fmt.Errorf("load anchor layout: %w", err)
	}
	log.Printf("service: %d anchors in layout (error34 %.3f m)", len(layout.Anchors), layout.Error34)

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("service: connected to MQTT broker at %s", cfg.MQTTBroker)

	// MQTT callbacks run on paho goroutines; they only queue commands.
	commands := make(chan Command, 16)
	filterTopic := cfg.CommandTopicPrefix + "#"
	token := client.Subscribe(filterTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		c := Command{
			Name:    strings.TrimPrefix(msg.Topic(), cfg.CommandTopicPrefix),
			Payload: append([]byte(nil), msg.Payload()...),
		}
		select {
		case commands <- c:
		default:
			log.Printf("service: command queue full, dropping %s", c.Name)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("MQTT subscribe %s: %w", filterTopic, token.Error())
	}
	log.Printf("service: listening for commands on %s", filterTopic)

	// --- web monitor ---
	var hub *sink.Hub
	if cfg.WebServerPort > 0 {
		hub = sink.NewHub()
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		mux.Handle("/api/imu", hub.LatestHandler(hubIMU))
		mux.Handle("/api/position", hub.LatestHandler(hubPosition))
		srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.WebServerPort), Handler: mux}
		go func() {
			log.Printf("web: listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("web: %v", err)
			}
		}()
		defer srv.Close()
	}

	svc := NewService(cfg, client, hub, imuScaler, uwbCal, layout)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := data.NewMonotonicClock()
	pumpErrs := make(chan error, 2)

	// --- IMU acquisition ---
	driver, err := openIMU(cfg)
	if err != nil {
		return err
	}
	pollTimeout := time.Duration(cfg.IMUPollTimeoutMS) * time.Millisecond
	imuPump := pump.New[data.NineDoFData]("imu", imu.NewProvider(driver, clock), pollTimeout)
	imuPump.MaxConsecutiveErrors = cfg.MaxConsecutiveErrors
	imuPump.RetryDelay = pollTimeout
	imuCh := make(chan data.Data[data.NineDoFData], 64)
	startPump(ctx, imuPump, imuCh, pumpErrs)

	// --- UWB acquisition ---
	var uwbCh chan data.Data[decawave.LocationResponse]
	if cfg.DecawaveSerialPort != "" {
		interval := time.Duration(cfg.DecawaveUpdateInterval) * time.Millisecond
		tag, err := decawave.Open(cfg.DecawaveSerialPort, uint(cfg.DecawaveBaudRate), interval, clock)
		if err != nil {
			return err
		}
		uwbPump := pump.New[decawave.LocationResponse]("decawave", tag, 2*interval)
		uwbPump.MaxConsecutiveErrors = cfg.MaxConsecutiveErrors
		uwbPump.RetryDelay = interval
		uwbCh = make(chan data.Data[decawave.LocationResponse], 8)
		startPump(ctx, uwbPump, uwbCh, pumpErrs)
	} else {
		log.Println("service: DECAWAVE_SERIAL_PORT not set, UWB disabled")
	}

	// Cancel the service loop on signal or when a pump gives up.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	stopErr := make(chan error, 1)
	go func() {
		var err error
		select {
		case sig := <-sigCh:
			log.Printf("service: %v received, shutting down", sig)
		case err = <-pumpErrs:
			if err != nil {
				log.Printf("service: %v", err)
			}
		case <-ctx.Done():
		}
		cancel()
		stopErr <- err
	}()

	err = svc.Run(ctx, imuCh, uwbCh, commands)
	cancel()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if perr := <-stopErr; err == nil {
		err = perr
	}
	log.Println("service: shutting down")
	return err
}
