// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relabs-tech/rover_position/internal/calibration"
	"github.com/relabs-tech/rover_position/internal/config"
	"github.com/relabs-tech/rover_position/internal/data"
	"github.com/relabs-tech/rover_position/internal/decawave"
	"github.com/relabs-tech/rover_position/internal/filter"
	"github.com/relabs-tech/rover_position/internal/sink"
)

// Hub topics for the live monitor.
const (
	hubIMU      = "imu"
	hubAbsolute = "absolute"
	hubPosition = "position"
)

// Command is one message received under the command topic prefix.
// Name is the topic with the prefix removed, e.g. "data/publish/start".
type Command struct {
	Name    string
	Payload []byte
}

// ErrUnknownCommand is returned for command names the service does not handle.
var ErrUnknownCommand = errors.New("unknown command")

type publishRequest struct {
	Frequency float64 `json:"frequency"`
}

type recordRequest struct {
	Duration float64 `json:"duration"`
	Filename string  `json:"filename"`
}

type calibrateRequest struct {
	Samples int `json:"samples"`
}

type fileRequest struct {
	Filename string `json:"filename"`
}

// decode unmarshals an optional JSON payload; empty payloads leave v as is.
func decode(payload []byte, v any) error {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("bad payload %q: %w", payload, err)
	}
	return nil
}

// switcher is the untyped face of a filter.Toggle.
type switcher interface {
	Start(payload []byte) error
	Stop()
	Active() bool
}

// Service owns the filter chains and reacts to commands. All methods must
// be called from one goroutine.
type Service struct {
	cfg       *config.Config
	publisher sink.Publisher
	hub       *sink.Hub

	imuScaler *calibration.ImuScaler
	uwbCal    *calibration.DecawaveCalibration

	raw           *filter.FanOut[data.NineDoFData]
	scaled        *filter.ScalingFilter[data.NineDoFData]
	location      *filter.FanOut[decawave.LocationResponse]
	trilateration *decawave.TrilaterationFilter
	absolute      *filter.ScalingFilter[data.Vector]
	position      *filter.Map[data.Vector, data.Position]

	toggles     map[string]switcher
	calibrating *calibration.GyroBiasCollector

	paused   bool
	quit     bool
	imuCount uint64
	uwbCount uint64
}

// NewService builds the chains. hub may be nil when the monitor is disabled.
func NewService(cfg *config.Config, publisher sink.Publisher, hub *sink.Hub, imuScaler *calibration.ImuScaler, uwbCal *calibration.DecawaveCalibration, layout *calibration.AnchorLayout) *Service {
	s := &Service{
		cfg:       cfg,
		publisher: publisher,
		hub:       hub,
		imuScaler: imuScaler,
		uwbCal:    uwbCal,
	}

	// IMU: raw → scaled → (monitor, temperature)
	s.raw = filter.NewFanOut[data.NineDoFData]("raw")
	s.scaled = filter.Then[data.NineDoFData](s.raw, filter.NewScalingFilter[data.NineDoFData]("scaled", imuScaler))
	s.scaled.Add(filter.NewSink[data.NineDoFData]("temperature", func(d data.Data[data.NineDoFData]) error {
		if t := d.Value.Temperature; t != nil {
			s.trilateration.SetTemperature(t.Value)
		}
		return nil
	}))

	// UWB: location → trilateration → vector → rotation → position
	s.location = filter.NewFanOut[decawave.LocationResponse]("location")
	s.trilateration = filter.Then[decawave.LocationResponse](s.location, decawave.NewTrilaterationFilter("trilateration", layout, &uwbCal.Range))
	vec := filter.Then[decawave.LocationResponse](s.trilateration, decawave.NewToVector("vector"))
	s.absolute = filter.Then[data.Vector](vec, filter.NewScalingFilter[data.Vector]("absolute", &uwbCal.Rotation))
	s.position = filter.Then[data.Vector](s.absolute, decawave.NewToPosition("position"))

	if hub != nil {
		s.scaled.Add(sink.NewWebSocketBroadcaster[data.NineDoFData]("monitor-imu", hub, hubIMU))
		s.absolute.Add(sink.NewWebSocketBroadcaster[data.Vector]("monitor-absolute", hub, hubAbsolute))
		s.position.Add(sink.NewWebSocketBroadcaster[data.Position]("monitor-position", hub, hubPosition))
	}

	s.toggles = map[string]switcher{
		"data/publish":     filter.NewToggle[data.NineDoFData]("data-publish", s.raw, s.buildDataPublish),
		"data/record":      filter.NewToggle[data.NineDoFData]("data-record", s.raw, s.buildDataRecord),
		"absolute/publish": filter.NewToggle[data.Vector]("absolute-publish", s.absolute, s.buildAbsolutePublish),
		"position/publish": filter.NewToggle[data.Position]("position-publish", s.position, s.buildPositionPublish),
	}
	return s
}

// buildDataPublish decimates raw samples to the requested rate and publishes
// them both raw and scaled.
func (s *Service) buildDataPublish(payload []byte) (filter.Receiver[data.NineDoFData], error) {
	req := publishRequest{Frequency: 1}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	shift, err := filter.NewFrequencyShiftFilter("publish-shift", req.Frequency)
	if err != nil {
		return nil, err
	}
	shift.Add(sink.NewMQTTPublisher[data.NineDoFData]("publish-raw", s.publisher, s.cfg.TopicIMURaw))
	scaled := filter.Then[data.NineDoFData](shift, filter.NewScalingFilter[data.NineDoFData]("publish-scaling", s.imuScaler))
	scaled.Add(sink.NewMQTTPublisher[data.NineDoFData]("publish-scaled", s.publisher, s.cfg.TopicIMUScaled))
	return shift, nil
}

func (s *Service) buildDataRecord(payload []byte) (filter.Receiver[data.NineDoFData], error) {
	req := recordRequest{Duration: 10}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	name := req.Filename
	if name == "" {
		name = fmt.Sprintf("imu_%s.csv", time.Now().Format("20060102_150405"))
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(s.cfg.RecordDir, name)
	}
	return sink.NewCSVRecorder[data.NineDoFData]("record", name, data.NineDoFConverter{}, req.Duration)
}

func (s *Service) buildAbsolutePublish(payload []byte) (filter.Receiver[data.Vector], error) {
	req := publishRequest{Frequency: 1}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	sampler, err := filter.NewSamplingFilter[data.Vector]("absolute-sampling", req.Frequency)
	if err != nil {
		return nil, err
	}
	sampler.Add(sink.NewMQTTPublisher[data.Vector]("absolute-publisher", s.publisher, s.cfg.TopicAbsolute))
	return sampler, nil
}

func (s *Service) buildPositionPublish(payload []byte) (filter.Receiver[data.Position], error) {
	var req publishRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	pub := sink.NewMQTTPublisher[data.Position]("position-publisher", s.publisher, s.cfg.TopicPosition)
	if req.Frequency <= 0 {
		return pub, nil
	}
	sampler, err := filter.NewSamplingFilter[data.Position]("position-sampling", req.Frequency)
	if err != nil {
		return nil, err
	}
	sampler.Add(pub)
	return sampler, nil
}

// Paused reports whether incoming samples are being discarded.
func (s *Service) Paused() bool { return s.paused }

// Quit reports whether a quit command has been received.
func (s *Service) Quit() bool { return s.quit }

// Raw is the head of the IMU chain.
func (s *Service) Raw() *filter.FanOut[data.NineDoFData] { return s.raw }

// Location is the head of the UWB chain.
func (s *Service) Location() *filter.FanOut[decawave.LocationResponse] { return s.location }

// HandleIMU feeds one IMU sample into the chain.
func (s *Service) HandleIMU(d data.Data[data.NineDoFData]) error {
	if s.paused {
		return nil
	}
	s.imuCount++
	return s.raw.Receive(d)
}

// HandleLocation feeds one UWB fix into the chain.
func (s *Service) HandleLocation(d data.Data[decawave.LocationResponse]) error {
	if s.paused {
		return nil
	}
	s.uwbCount++
	return s.location.Receive(d)
}

// HandleCommand applies one command.
func (s *Service) HandleCommand(c Command) error {
	switch c.Name {
	case "quit":
		s.quit = true
		return nil
	case "pause":
		s.paused = true
		log.Println("service: paused")
		return nil
	case "resume":
		s.paused = false
		log.Println("service: resumed")
		return nil
	case "calibrate":
		return s.startGyroCalibration(c.Payload)
	case "imu/calibration/save":
		return s.saveCalibration(c.Payload)
	case "imu/calibration/load":
		return s.loadCalibration(c.Payload)
	}

	if base, ok := strings.CutSuffix(c.Name, "/start"); ok {
		if t, found := s.toggles[base]; found {
			return t.Start(c.Payload)
		}
	}
	if base, ok := strings.CutSuffix(c.Name, "/stop"); ok {
		if t, found := s.toggles[base]; found {
			t.Stop()
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Name)
}

func (s *Service) startGyroCalibration(payload []byte) error {
	req := calibrateRequest{Samples: s.cfg.GyroCalibrationSamples}
	if err := decode(payload, &req); err != nil {
		return err
	}
	if s.calibrating != nil {
		s.raw.Remove(s.calibrating).Close()
	}
	c, err := calibration.NewGyroBiasCollector("gyro-calibration", s.imuScaler, req.Samples)
	if err != nil {
		return err
	}
	c.OnDone = func(offset data.Vector) {
		s.raw.Remove(c).Close()
		s.calibrating = nil
		s.publishCalibration()
	}
	if err := s.raw.TryAdd(c); err != nil {
		return err
	}
	s.calibrating = c
	log.Printf("service: gyro calibration started, keep the rover still for %d samples", req.Samples)
	return nil
}

// publishCalibration posts the current IMU calibration as a retained message.
func (s *Service) publishCalibration() {
	payload, err := json.Marshal(s.imuScaler)
	if err != nil {
		log.Printf("service: calibration marshal: %v", err)
		return
	}
	token := s.publisher.Publish(s.cfg.TopicCalibration, 0, true, payload)
	if !token.WaitTimeout(time.Second) {
		log.Printf("service: calibration publish timed out")
	} else if err := token.Error(); err != nil {
		log.Printf("service: calibration publish: %v", err)
	}
}

func (s *Service) calibrationFile(payload []byte) (string, error) {
	req := fileRequest{Filename: s.cfg.IMUCalibrationFile}
	if err := decode(payload, &req); err != nil {
		return "", err
	}
	return req.Filename, nil
}

func (s *Service) saveCalibration(payload []byte) error {
	path, err := s.calibrationFile(payload)
	if err != nil {
		return err
	}
	if err := calibration.Save(path, s.imuScaler); err != nil {
		return err
	}
	log.Printf("service: IMU calibration saved to %s", path)
	return nil
}

func (s *Service) loadCalibration(payload []byte) error {
	path, err := s.calibrationFile(payload)
	if err != nil {
		return err
	}
	loaded := calibration.NewImuScaler()
	if err := calibration.Load(path, loaded); err != nil {
		return err
	}
	// The scaling filters hold the pointer; update in place.
	*s.imuScaler = *loaded
	log.Printf("service: IMU calibration loaded from %s", path)
	s.publishCalibration()
	return nil
}

// Run dispatches samples and commands until ctx is cancelled or a quit
// command arrives. A nil channel is never selected. Chain errors are logged;
// they do not stop the service.
func (s *Service) Run(ctx context.Context, imuIn <-chan data.Data[data.NineDoFData], uwbIn <-chan data.Data[decawave.LocationResponse], commands <-chan Command) error {
	stats := time.NewTicker(10 * time.Second)
	defer stats.Stop()

	for !s.quit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-imuIn:
			if !ok {
				imuIn = nil
				continue
			}
			if err := s.HandleIMU(d); err != nil {
				log.Printf("service: imu chain: %v", err)
			}
		case d, ok := <-uwbIn:
			if !ok {
				uwbIn = nil
				continue
			}
			if err := s.HandleLocation(d); err != nil {
				log.Printf("service: uwb chain: %v", err)
			}
		case c := <-commands:
			log.Printf("service: command %s", c.Name)
			if err := s.HandleCommand(c); err != nil {
				log.Printf("service: command %s: %v", c.Name, err)
			}
		case <-stats.C:
			log.Printf("service: %d imu samples, %d uwb fixes", s.imuCount, s.uwbCount)
		}
	}
	log.Println("service: quit requested")
	return nil
}

// Close stops all toggles and closes both chains.
func (s *Service) Close() {
	for _, t := range s.toggles {
		t.Stop()
	}
	s.raw.Close()
	s.location.Close()
}

// loadOrDefault loads a calibration file into v, keeping v's defaults when
// the file does not exist yet.
func loadOrDefault(path string, v any) error {
	if path == "" {
		return nil
	}
	err := calibration.Load(path, v)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("service: %s not found, using defaults", path)
		return nil
	}
	return err
}
