package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/markus-lassfolk/geoclued/pkg/config"
	"github.com/markus-lassfolk/geoclued/pkg/geo"
	"github.com/markus-lassfolk/geoclued/pkg/logx"
	"github.com/markus-lassfolk/geoclued/pkg/metrics"
	"github.com/markus-lassfolk/geoclued/pkg/modem"
	"github.com/markus-lassfolk/geoclued/pkg/modemgps"
	"github.com/markus-lassfolk/geoclued/pkg/mqttpub"
	"github.com/markus-lassfolk/geoclued/pkg/nmea"
	"github.com/markus-lassfolk/geoclued/pkg/pidfile"
	"github.com/markus-lassfolk/geoclued/pkg/source"
	"github.com/markus-lassfolk/geoclued/pkg/static"
	"github.com/markus-lassfolk/geoclued/pkg/threeg"
	"github.com/markus-lassfolk/geoclued/pkg/webquery"
	"github.com/markus-lassfolk/geoclued/pkg/wifi"
)

const (
	AppName    = "geoclued"
	AppVersion = "0.1.0"
)

var (
	configPath = flag.String("config", "/etc/config/geoclued", "Path to UCI-style configuration file")
	pidPath    = flag.String("pid-file", "/var/run/geoclued.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "info", "Log level (trace|debug|info|warn|error)")
	version    = flag.Bool("version", false, "Show version information")
	force      = flag.Bool("force", false, "Remove the PID file even if its process is still running, and start anyway")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\n", AppName, AppVersion)
		return
	}

	logger := logx.New(AppName, *logLevel)

	pf := pidfile.New(*pidPath)
	if running, pid, err := pf.CheckRunning(); err != nil {
		logger.Warn("pid file check failed", "error", err.Error())
	} else if running {
		if !*force {
			logger.Error("daemon already running", "pid", pid)
			os.Exit(1)
		}
		logger.Warn("forcing start over pid file of running process", "pid", pid)
		if err := pf.ForceRemove(); err != nil {
			logger.Error("failed to remove pid file", "error", err.Error())
			os.Exit(1)
		}
	}
	if err := pf.Create(); err != nil {
		logger.Error("failed to create pid file", "error", err.Error())
		os.Exit(1)
	}
	defer pf.Remove()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		"wifi", cfg.WifiEnable, "3gpp", cfg.ThreeGEnable,
		"nmea", cfg.NmeaEnable, "modem-gps", cfg.ModemGPSEnable, "static", cfg.StaticEnable)

	metricsReg := metrics.New()
	registry := source.NewRegistry()

	locateHook := func(name string) func(outcome string) {
		return func(outcome string) { metricsReg.LocateRequestsTotal.WithLabelValues(name, outcome).Inc() }
	}
	submitHook := func(outcome string) { metricsReg.SubmitRequestsTotal.WithLabelValues(outcome).Inc() }

	mqttPub := mqttpub.New(mqttpub.DefaultConfig(), logger.With("component", "mqtt"))
	if err := mqttPub.Connect(); err != nil {
		logger.Warn("mqtt publisher connect failed", "error", err.Error())
	}
	defer mqttPub.Disconnect()

	var googleLocator *webquery.GoogleLocator
	if cfg.GoogleAPIKey != "" {
		googleLocator, err = webquery.NewGoogleLocator(cfg.GoogleAPIKey)
		if err != nil {
			logger.Warn("google geolocation api unavailable, falling back to locate-url", "error", err.Error())
			googleLocator = nil
		}
	}

	var sources []namedSource

	query := webquery.New()

	if cfg.WifiEnable {
		wifiSrc := registry.GetOrCreate(source.KindWifi, false, func() interface{} {
			return wifi.New("wlan0", query, cfg.WifiURL, cfg.WifiSubmissionURL, cfg.WifiSubmissionNick, logger.With("source", "wifi"))
		}).(*wifi.Source)
		if googleLocator != nil {
			wifiSrc.SetLocator(googleLocator)
		}
		wifiSrc.SetMetricsHooks(locateHook("wifi"), submitHook)
		sources = append(sources, namedSource{"wifi", wifiSrc.Base})
		wireObservers(metricsReg, mqttPub, "wifi", wifiSrc.Base)
	}

	var threeGSrc *threeg.Source
	if cfg.ThreeGEnable {
		threeGSrc = registry.GetOrCreate(source.KindThreeG, false, func() interface{} {
			return threeg.New(query, cfg.WifiURL, cfg.WifiSubmissionURL, cfg.WifiSubmissionNick, cfg.ThreeGRepeatRefresh, logger.With("source", "3gpp"))
		}).(*threeg.Source)
		if googleLocator != nil {
			threeGSrc.SetLocator(googleLocator)
		}
		threeGSrc.SetMetricsHooks(locateHook("3gpp"), submitHook)
		sources = append(sources, namedSource{"3gpp", threeGSrc.Base})
		wireObservers(metricsReg, mqttPub, "3gpp", threeGSrc.Base)
		defer threeGSrc.Close()
	}

	if cfg.NmeaEnable {
		mux := registry.GetOrCreate(source.KindNmea, false, func() interface{} {
			return nmea.New(logger.With("source", "nmea"), func(loc geo.LocationValue) {
				logger.Debug("nmea location", "lat", loc.Latitude, "lon", loc.Longitude)
				metricsReg.LocationUpdatesTotal.WithLabelValues("nmea").Inc()
				if err := mqttPub.PublishLocation("nmea", loc); err != nil {
					_ = err
				}
			}, func(level geo.AccuracyLevel) {
				metricsReg.AvailableAccuracy.WithLabelValues("nmea").Set(float64(level))
				_ = mqttPub.PublishAccuracy("nmea", level)
			})
		}).(*nmea.Multiplexer)
		mux.SetReconnectHook(func() { metricsReg.NmeaReconnectsTotal.Inc() })
		mux.Start(cfg.NmeaSocketPath)
		if err := mux.StartMDNS(); err != nil {
			logger.Warn("nmea mdns discovery unavailable", "error", err.Error())
		}
		defer mux.Stop()
	}

	gaugeBool := func(g *prometheus.GaugeVec, label string) func(bool) {
		return func(available bool) {
			v := 0.0
			if available {
				v = 1.0
			}
			g.WithLabelValues(label).Set(v)
		}
	}

	var modemGPSSrc *modemgps.Source
	if cfg.ModemGPSEnable {
		modemGPSSrc = registry.GetOrCreate(source.KindModemGPS, false, func() interface{} {
			return modemgps.New(logger.With("source", "modemgps"))
		}).(*modemgps.Source)
		sources = append(sources, namedSource{"modemgps", modemGPSSrc.Base})
		wireObservers(metricsReg, mqttPub, "modemgps", modemGPSSrc.Base)
	}

	if cfg.ThreeGEnable || cfg.ModemGPSEnable {
		onFix3GPP := func(modem.Fix3GPP) {}
		onNoFix3G := func() {}
		if threeGSrc != nil {
			onFix3GPP = threeGSrc.HandleFix3GPP
			onNoFix3G = threeGSrc.HandleNoFix
		}
		onFixGPS := func(gga, rmc string) {}
		if modemGPSSrc != nil {
			onFixGPS = modemGPSSrc.HandleFixGPS
		}

		modemAdapter := modem.New(modem.NullBus{}, modem.Callbacks{
			OnCap3G:   gaugeBool(metricsReg.ModemCapabilityState, "3g"),
			OnCapCDMA: gaugeBool(metricsReg.ModemCapabilityState, "cdma"),
			OnCapGPS:  gaugeBool(metricsReg.ModemCapabilityState, "gps"),
			OnFix3GPP: onFix3GPP,
			OnNoFix3G: onNoFix3G,
			OnFixCDMA: func(lat, lon float64) {},
			OnFixGPS:  onFixGPS,
		}, logger.With("source", "modem"))
		modemAdapter.SetRefreshRateSeconds(int(cfg.ModemGPSRefreshThreshold.Seconds()))

		if modemGPSSrc != nil {
			modemGPSSrc.SetAdapter(modemAdapter)
		}
	}

	if cfg.StaticEnable {
		staticSrc := registry.GetOrCreate(source.KindStatic, cfg.ScrambleLocation, func() interface{} {
			return static.New(cfg.StaticFile, cfg.ScrambleLocation, logger.With("source", "static"))
		}).(*static.Source)
		sources = append(sources, namedSource{"static", staticSrc.Base})
		wireObservers(metricsReg, mqttPub, "static", staticSrc.Base)
	}

	for _, s := range sources {
		s.base.Start()
	}
	defer func() {
		for _, s := range sources {
			s.base.Stop()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	logger.Info("geoclued started", "version", AppVersion)
	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig.String())
}

type namedSource struct {
	name string
	base *source.Base
}

func wireObservers(reg *metrics.Registry, pub *mqttpub.Publisher, name string, base *source.Base) {
	base.SubscribeLocation(func(loc geo.LocationValue) {
		reg.LocationUpdatesTotal.WithLabelValues(name).Inc()
		if err := pub.PublishLocation(name, loc); err != nil {
			// best-effort; publish failures don't affect the daemon's
			// own notion of the current location.
			_ = err
		}
	})
	base.SubscribeAccuracy(func(level geo.AccuracyLevel) {
		reg.AvailableAccuracy.WithLabelValues(name).Set(float64(level))
		_ = pub.PublishAccuracy(name, level)
	})
}
