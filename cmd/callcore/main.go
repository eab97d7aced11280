package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/OjDrez/tander-app-sub004/internal/api"
	"github.com/OjDrez/tander-app-sub004/internal/config"
	"github.com/OjDrez/tander-app-sub004/internal/domain"
	"github.com/OjDrez/tander-app-sub004/internal/metrics"
	"github.com/OjDrez/tander-app-sub004/internal/navigation"
	"github.com/OjDrez/tander-app-sub004/internal/network"
	"github.com/OjDrez/tander-app-sub004/internal/reconcile"
	"github.com/OjDrez/tander-app-sub004/internal/session"
	sigclient "github.com/OjDrez/tander-app-sub004/internal/signal"
	"github.com/OjDrez/tander-app-sub004/internal/timeout"
	"github.com/OjDrez/tander-app-sub004/internal/webrtc"
	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const helpText = `callcore - place or answer a peer-to-peer audio/video call

Usage:
  callcore call <peerUserId> [audio|video]
  callcore listen

listen answers the first incoming call automatically. Send SIGHUP to
return to the current call screen, SIGINT or SIGTERM to hang up and exit.

Environment Variables:
  CALL_USER_ID        Local user identifier (required)
  CALL_SIGNAL_URL     Signaling WebSocket URL (required)
  CALL_DISPLAY_NAME   Name shown to the callee
  CALL_TOKEN          Bearer token for signaling and ICE credentials
  CALL_ICE_URL        ICE credential endpoint
  CALL_STUN_URLS      Comma separated STUN URLs
  CALL_CONFIG         Optional TOML config file
  CALL_RING_TIMEOUT   Missed-call timeout (default 45s, 0 disables)
  CALL_DIAL_TIMEOUT   Outgoing call timeout (default 60s, 0 disables)
  CALL_STALE_GRACE    Stale session grace period (default 1.5s)
  CALL_AUTO_RESET     Delay before a finished call returns to idle (default 3s)
  CALL_METRICS_ADDR   Serve Prometheus metrics on this address
  CALL_LOG_LEVEL      Log level (default info)
  CALL_LOG_FORMAT     text or json (default text)

Options:
  -h, --help  Show this help message
`

var log = logrus.WithField("component", "main")

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	if err := setupLogging(cfg); err != nil {
		logrus.Fatalf("%v", err)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
	log.Infof("done")
}

func setupLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("CALL_LOG_LEVEL: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000000"})
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	servers := iceServers(cfg)

	factory, err := webrtc.NewFactory(packetLogger())
	if err != nil {
		return fmt.Errorf("create peer factory: %w", err)
	}

	sc := sigclient.NewClient(sigclient.Options{
		URL:          cfg.SignalURL,
		SelfID:       cfg.UserID,
		Token:        cfg.Token,
		PingInterval: cfg.PingInterval,
	})
	defer sc.Close()

	provider := network.NewInterfaceProvider(cfg.NetworkPoll)
	monitor := network.NewMonitor(provider)
	if err := monitor.Start(); err != nil {
		log.Warnf("network monitor: %v", err)
	}
	defer monitor.Stop()
	monitor.OnConnectivityLost(func() { log.Warnf("connectivity lost") })
	monitor.OnConnectivityRestored(func() { log.Infof("connectivity restored") })

	sess, err := session.New(session.Config{
		Signaler:    sc,
		Peers:       factory,
		Media:       webrtc.SampleSource{},
		ICEServers:  servers,
		DisplayName: cfg.DisplayName,
		AutoReset:   cfg.AutoReset,
		Network:     monitor,
		Metrics:     metrics.New(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer sess.Close()

	reconciler := reconcile.New(sess, cfg.StaleGrace)
	reconciler.Start()
	defer reconciler.Stop()

	watchdog := timeout.New(sess, timeout.Policy{Ring: cfg.RingTimeout, Dial: cfg.DialTimeout})
	watchdog.Start()
	defer watchdog.Stop()

	nav := navigation.NewController(sess, navigation.LogNavigator{})

	sess.Observe(func(snap session.Snapshot) {
		entry := log.WithField("status", snap.Status)
		if snap.Metadata != nil {
			entry = entry.WithField("room", snap.Metadata.RoomID)
		}
		if snap.Failure != nil {
			entry.Warnf("call failed: %v", snap.Failure)
			return
		}
		entry.Debugf("session changed")
	})

	if err := sc.Connect(); err != nil {
		return fmt.Errorf("signal connect: %w", err)
	}

	switch args[0] {
	case "call":
		if len(args) < 2 {
			return errors.New("call needs a peer user id")
		}
		kind := domain.CallKindAudio
		if len(args) > 2 && args[2] == string(domain.CallKindVideo) {
			kind = domain.CallKindVideo
		}
		meta, err := sess.StartCall(session.StartRequest{PeerUserID: args[1], Kind: kind})
		if err != nil {
			return fmt.Errorf("start call: %w", err)
		}
		log.WithField("room", meta.RoomID).Infof("calling %s", args[1])
	case "listen":
		sess.Observe(func(snap session.Snapshot) {
			if snap.Status != session.StatusRinging {
				return
			}
			// Observers run on the session loop.
			go func() {
				if err := sess.AcceptCall(); err != nil {
					log.Warnf("accept call: %v", err)
				}
			}()
		})
		log.Infof("waiting for calls as %s", cfg.UserID)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	hup := make(chan os.Signal, 1)
	ossignal.Notify(hup, syscall.SIGHUP)
	defer ossignal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(provider.Run(gctx)) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if _, err := nav.ReturnToCall(); err != nil {
					log.Warnf("return to call: %v", err)
				}
			}
		}
	})
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Infof("serving metrics on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Infof("shutting down")
	return err
}

// iceServers prefers credentials from the API and falls back to the
// configured servers.
func iceServers(cfg *config.Config) []domain.ICEServer {
	if cfg.ICEURL == "" {
		return cfg.Servers()
	}
	fetched, err := api.NewClient(cfg.ICEURL).FetchICEServers(cfg.Token)
	if err != nil {
		log.Warnf("fetch ICE servers, using static list: %v", err)
		return cfg.Servers()
	}
	log.Infof("fetched %d ICE servers", len(fetched))
	return append(fetched, cfg.Servers()...)
}

// packetLogger logs the first packet of every remote track. Rendering is
// left to the embedding application.
func packetLogger() webrtc.PacketSink {
	var mu sync.Mutex
	seen := make(map[string]bool)
	return func(trackID string, kind domain.TrackKind, pkt *rtp.Packet) {
		mu.Lock()
		first := !seen[trackID]
		seen[trackID] = true
		mu.Unlock()
		if first {
			log.WithFields(logrus.Fields{"track": trackID, "kind": kind}).
				Infof("receiving media, pt=%d ssrc=%d", pkt.PayloadType, pkt.SSRC)
		}
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
