package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/go-chi/chi/v5"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/alive/v2"
	"github.com/temoto/rmlink/bridge"
	"github.com/temoto/rmlink/cmd/rmctl/subcmd"
	"github.com/temoto/rmlink/internal/metrics"
	"github.com/temoto/rmlink/robot"
)

const sessionCheckInterval = time.Second

type status struct {
	Remote    string          `json:"remote"`
	Local     string          `json:"local"`
	Running   bool            `json:"running"`
	LastRecv  time.Time       `json:"last_recv"`
	Pending   int             `json:"pending"`
	Subjects  []string        `json:"subjects"`
	Client    json.RawMessage `json:"client"`
	Telemetry json.RawMessage `json:"telemetry"`
}

func newStatus(r *robot.Robot) status {
	c := r.Client()
	s := status{
		Running:   c.Running(),
		LastRecv:  c.LastRecv(),
		Pending:   c.Pending(),
		Subjects:  r.Subscriber().Subjects(),
		Client:    json.RawMessage(c.Stat().String()),
		Telemetry: json.RawMessage(r.Subscriber().Stat().String()),
	}
	if a := c.Remote(); a != nil {
		s.Remote = a.String()
	}
	if a := c.LocalAddr(); a != nil {
		s.Local = a.String()
	}
	return s
}

func monitorRoutes(r *robot.Robot, reg *prometheus.Registry) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(newStatus(r))
	})
	mux.Get("/subjects/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		id := r.Subscriber().MsgID(name)
		if id == 0 {
			http.Error(w, "subject not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"name": name, "msg_id": id})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// forward subscribes configured subjects into MQTT.
func forward(ctx context.Context, env *subcmd.Env, r *robot.Robot) (*bridge.Bridge, error) {
	cfg := env.Config
	pub, err := bridge.NewMQTT(bridge.MQTTOptions{
		Log:      env.Log,
		Broker:   cfg.MQTTBroker(),
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Timeout:  cfg.MQTTTimeout(),
		LogDebug: cfg.Robot.LogDebug,
	})
	if err != nil {
		return nil, err
	}
	br, err := bridge.New(bridge.Options{
		Log:         env.Log,
		Publisher:   pub,
		TopicPrefix: cfg.MQTTTopicPrefix(),
		Encoding:    cfg.MQTT.Encoding,
		QoS:         byte(cfg.MQTT.QoS),
	})
	if err != nil {
		pub.Close()
		return nil, err
	}
	for _, name := range cfg.MQTTSubjects() {
		fwd := br.Forward(name)
		err = subscribe(ctx, r.Chassis(), name, byte(cfg.MQTT.Freq), func(_ string, v interface{}) { fwd(v) })
		if err != nil {
			br.Close()
			return nil, errors.Annotatef(err, "mqtt forward subject=%s", name)
		}
	}
	return br, nil
}

func monitorMain(ctx context.Context, env *subcmd.Env) error {
	return withRobot(ctx, env, func(r *robot.Robot) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewCollector(r.Client(), r.Subscriber()),
		)

		if env.Config.MQTT.Enable {
			br, err := forward(ctx, env, r)
			if err != nil {
				return err
			}
			defer br.Close()
		}

		srv := &http.Server{Addr: env.Config.MonitorListen(), Handler: monitorRoutes(r, reg)}
		errch := make(chan error, 1)
		go func() { errch <- srv.ListenAndServe() }()

		a := alive.NewAlive()
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigch)
		go func() {
			select {
			case sig := <-sigch:
				env.Log.Infof("monitor: signal=%s", sig)
			case <-a.StopChan():
			}
			a.Stop()
		}()

		subcmd.SdNotify(daemon.SdNotifyReady)
		env.Log.Infof("monitor: running listen=%s remote=%s", srv.Addr, r.Remote())
		tick := time.NewTicker(sessionCheckInterval)
		defer tick.Stop()
		var err error
		stopCh := a.StopChan()
		for a.IsRunning() {
			select {
			case <-stopCh:
			case err = <-errch:
				err = errors.Annotate(err, "monitor http")
				a.Stop()
			case <-tick.C:
				if !r.Client().Running() {
					err = errors.Annotate(r.Client().Err(), "monitor: session lost")
					if err == nil {
						err = errors.New("monitor: session lost")
					}
					a.Stop()
				}
			}
		}
		subcmd.SdNotify(daemon.SdNotifyStopping)
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return err
	})
}
