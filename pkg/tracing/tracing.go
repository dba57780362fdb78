package tracing

import (
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

type Config struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// InitTracer returns a jaeger tracer, or a noop one when tracing is disabled.
// The global tracer is left alone: callers pass the tracer explicitly.
func InitTracer(conf Config) (opentracing.Tracer, io.Closer, error) {
	if !conf.Enabled {
		return opentracing.NoopTracer{}, nopCloser{}, nil
	}

	name := conf.ServiceName
	if name == "" {
		name = "trade_supervisor"
	}
	cfg := &jCfg.Configuration{
		ServiceName: name,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           true,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(
		jCfg.Metrics(metrics.NullFactory),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "init jaeger tracer")
	}
	return tracer, closer, nil
}
