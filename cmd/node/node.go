package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/connectivity"
	"github.com/banshee-data/motion.report/internal/fsutil"
	"github.com/banshee-data/motion.report/internal/httputil"
	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/pipeline"
	"github.com/banshee-data/motion.report/internal/power"
	"github.com/banshee-data/motion.report/internal/telemetry"
	"github.com/banshee-data/motion.report/internal/timeutil"
	"github.com/banshee-data/motion.report/internal/upload"
	"github.com/banshee-data/motion.report/internal/version"
)

// devBatteryRaw reads as a full battery with the default calibration.
const devBatteryRaw = 1861

// node holds the wired collaborators of one run.
type node struct {
	pipeline *pipeline.Pipeline
	queue    *upload.Queue
	bridge   *imu.Bridge
	latch    *power.Latch
	closers  []func()
}

type hardware struct {
	gpio  power.GPIO
	adc   power.ADC
	clock timeutil.Clock
}

func realHardware(cfg *config.NodeConfig) hardware {
	fs := fsutil.OSFileSystem{}
	return hardware{
		gpio:  power.NewSysfsGPIO(fs, cfg.GetGPIOBase(), cfg.GetPowerPin()),
		adc:   power.NewSysfsADC(fs, cfg.GetBatteryADCPath()),
		clock: timeutil.RealClock{},
	}
}

func devHardware() hardware {
	return hardware{
		gpio:  power.NopGPIO{},
		adc:   power.StaticADC(devBatteryRaw),
		clock: timeutil.RealClock{},
	}
}

// newNode wires the node from cfg. Hardware that fails to come up degrades
// the node instead of stopping it; only invalid configuration is an error.
func newNode(ctx context.Context, cfg *config.NodeConfig, dev bool) (*node, error) {
	hw := realHardware(cfg)
	if dev {
		hw = devHardware()
	}
	n := &node{latch: power.NewLatch(hw.gpio)}

	// keep the supply on before anything slow happens
	if err := n.latch.Engage(); err != nil {
		log.Printf("power latch: %v", err)
	}

	sensor := n.initSensor(ctx, cfg, dev)

	sink, err := n.newSink(ctx, cfg, hw.clock)
	if err != nil {
		n.Close()
		return nil, err
	}

	stamper, err := timeutil.NewStamper(hw.clock, cfg.GetTimezone(), nil)
	if err != nil {
		n.Close()
		return nil, err
	}

	retain := cfg.GetRetainOnFailure()
	if retain && n.queue != nil {
		log.Printf("retain_on_failure has no effect with async_upload; queued batches are not retried")
		retain = false
	}

	n.pipeline, err = pipeline.New(pipeline.Config{
		DeviceID:     cfg.GetDeviceID(),
		Sensor:       sensor,
		Aggregator:   telemetry.NewAggregator(cfg.GetThresholds()),
		Batch:        telemetry.NewBatch(cfg.GetBatchCapacity(), telemetry.RetainOnFailure(retain)),
		Sink:         sink,
		Battery:      power.NewBatteryMonitor(hw.adc, cfg.GetBattery()),
		Stamper:      stamper,
		Latch:        n.latch,
		Clock:        hw.clock,
		PollInterval: cfg.GetPollInterval(),
		Window:       cfg.GetWindow(),
	})
	if err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) initSensor(ctx context.Context, cfg *config.NodeConfig, dev bool) imu.Sensor {
	if dev {
		log.Printf("dev mode: using synthetic IMU")
		return imu.NewSynthetic(time.Now().UnixNano())
	}
	bridge := imu.NewBridge(cfg.GetSerial(), nil)
	if err := bridge.Init(ctx, cfg.GetSensorPorts(), cfg.GetSensor()); err != nil {
		log.Printf("IMU init failed, sampling disabled: %v", err)
		return imu.Disabled{}
	}
	log.Printf("IMU ready on %s", bridge.Path())
	n.bridge = bridge
	n.closers = append(n.closers, func() { bridge.Close() })
	return bridge
}

// newSink builds the configured transport, waits for the network as the
// firmware did at boot, and wraps it in the async queue when enabled.
func (n *node) newSink(ctx context.Context, cfg *config.NodeConfig, clock timeutil.Clock) (telemetry.Sink, error) {
	var (
		sink telemetry.Sink
		link connectivity.Link
	)
	switch cfg.GetSink() {
	case config.SinkMQTT:
		client := upload.DialMQTT(cfg.GetMQTTBroker(), cfg.GetDeviceID())
		n.closers = append(n.closers, func() { client.Disconnect(250) })
		link = connectivity.LinkFunc(func(context.Context) bool { return client.IsConnected() })
		sink = upload.NewMQTTSink(client, cfg.GetMQTTTopic(), cfg.GetUploadOptions().Timeout)
	default:
		opts := cfg.GetUploadOptions()
		probe, err := connectivity.ProbeForURL(opts.Endpoint, connectivity.DefaultProbeTimeout)
		if err != nil {
			return nil, err
		}
		link = probe
		u, err := upload.NewHTTPUploader(httputil.NewStrictClient(0), probe, clock, opts)
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		sink = u
	}

	if connectivity.AutoConnect(ctx, link, cfg.GetConnectTimeout(), clock) {
		log.Print("WiFi Connected!")
	} else {
		log.Print("Failed to connect")
	}

	if cfg.GetAsyncUpload() {
		n.queue = upload.NewQueue(sink, cfg.GetUploadQueueDepth())
		return n.queue, nil
	}
	return sink, nil
}

// debugMux mounts every component's tsweb debug routes.
func (n *node) debugMux() *http.ServeMux {
	mux := http.NewServeMux()
	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KVFunc("Power latch failures", func() any { return n.latch.Failures() })

	n.pipeline.AttachAdminRoutes(mux)
	if n.bridge != nil {
		n.bridge.Mux().AttachAdminRoutes(mux)
		debug.KVFunc("IMU rejected lines", func() any { return n.bridge.Rejected() })
	}
	if n.queue != nil {
		debug.KVFunc("Upload queue", func() any { return n.queue.Stats() })
	}
	return mux
}

// Close releases hardware and transport resources in reverse order.
func (n *node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}
