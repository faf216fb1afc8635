package otel

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization=Bearer abc , broken, =x, tenant = ops ")
	if len(got) != 2 || got["authorization"] != "Bearer abc" || got["tenant"] != "ops" {
		t.Fatalf("unexpected headers %v", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("AUTOREPAY_OTEL_DISABLED", "true")

	cfg := ConfigFromEnv("autorepayd", "staging")
	if cfg.Endpoint != "collector:4318" || cfg.Insecure || cfg.Metrics || cfg.Traces {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ServiceName != "autorepayd" || cfg.Environment != "staging" {
		t.Fatalf("unexpected identity %+v", cfg)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("expected full sampling by default, got %v", cfg.SampleRatio)
	}

	t.Setenv("AUTOREPAY_TRACE_SAMPLE_RATIO", "0.25")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "not-a-bool")
	cfg = ConfigFromEnv("autorepayd", "")
	if cfg.SampleRatio != 0.25 || !cfg.Insecure {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestSamplerBounds(t *testing.T) {
	for _, ratio := range []float64{0, -1, 1, 2} {
		if got := sampler(ratio).Description(); got != sdktrace.ParentBased(sdktrace.AlwaysSample()).Description() {
			t.Fatalf("ratio %v: unexpected sampler %s", ratio, got)
		}
	}
	if got := sampler(0.5).Description(); got == sdktrace.ParentBased(sdktrace.AlwaysSample()).Description() {
		t.Fatalf("expected ratio sampler, got %s", got)
	}
}

func TestInitWithSignalsDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "autorepayd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without service name")
	}
}
