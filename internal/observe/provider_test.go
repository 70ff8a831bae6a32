package observe

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitProvider_ServesMnemoRegistry(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	ctx := context.Background()
	exp := tracetest.NewInMemoryExporter()
	tel, err := InitProvider(ctx, ProviderConfig{
		ServiceVersion: "v1.2.3",
		ASRModel:       "small.en",
		Capture:        "replay",
		TraceExporter:  exp,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.Metrics.RecordSegment(ctx, "todo_candidate")
	tel.Metrics.RecordAbandonedFrames(ctx, 3, true)

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"mnemo_pipeline_segments_total{",
		`intent="todo_candidate"`,
		"mnemo_pipeline_abandoned_frames_total{",
		`mnemo_asr_model="small.en"`,
		`mnemo_capture="replay"`,
		`service_name="mnemo"`,
		`service_version="v1.2.3"`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics body missing %q", want)
		}
	}
	if strings.Contains(body, "mnemo_speaker_model") {
		t.Error("unset speaker model exported as a resource attribute")
	}

	_, span := StartSpan(ctx, "pipeline.segment")
	span.End()
	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global tracer provider is %T", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatal(err)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "pipeline.segment" {
		t.Errorf("exported spans = %v", spans)
	}
}

func TestResourceAttributes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  ProviderConfig
		want map[attribute.Key]string
	}{
		{
			name: "service only",
			cfg:  ProviderConfig{ServiceName: "mnemo"},
			want: map[attribute.Key]string{"service.name": "mnemo"},
		},
		{
			name: "models and capture",
			cfg:  ProviderConfig{ServiceName: "mnemo", ServiceVersion: "dev", ASRModel: "whisper", SpeakerModel: "resemblyzer", Capture: "network"},
			want: map[attribute.Key]string{
				"service.name":    "mnemo",
				"service.version": "dev",
				AttrASRModel:      "whisper",
				AttrSpeakerModel:  "resemblyzer",
				AttrCapture:       "network",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := resourceAttributes(tt.cfg)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d attributes %v, want %d", len(got), got, len(tt.want))
			}
			for _, kv := range got {
				if want, ok := tt.want[kv.Key]; !ok || kv.Value.AsString() != want {
					t.Errorf("attribute %s = %q, want %q", kv.Key, kv.Value.AsString(), want)
				}
			}
		})
	}
}
