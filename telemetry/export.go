package telemetry

import (
	"fmt"

	"github.com/bridgedist/bucketd/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

// Flush exports the registry for batch runs: a textfile for the node_exporter
// collector and/or a push to a pushgateway. A no-op when metrics are disabled.
func Flush() error {
	if registry == nil {
		return nil
	}

	conf := cfg.Config.Prometheus
	var firstErr error

	if conf.Textfile != "" {
		if err := prometheus.WriteToTextfile(conf.Textfile, registry); err != nil {
			firstErr = fmt.Errorf("failed to write metrics textfile: %w", err)
		} else {
			log.Debug().Str("path", conf.Textfile).Msg("Metrics written")
		}
	}

	if conf.PushGatewayURL != "" {
		err := push.New(conf.PushGatewayURL, conf.Job).
			Gatherer(registry).
			Grouping("instance", cfg.Config.InstanceID).
			Push()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to push metrics: %w", err)
		}
	}

	return firstErr
}
