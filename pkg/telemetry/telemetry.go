package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlplog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ServiceName is used for the resource, tracers and loggers
const ServiceName = "sharedfiles"

// Initialize sets up OpenTelemetry tracing and logging using autoexport.
// The returned function flushes and stops both providers.
func Initialize(endpoint, version string, logger *logrus.Logger) (func(), error) {
	if endpoint != "" && os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		if err := os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint); err != nil {
			return nil, err
		}
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceNameKey.String(ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, err
	}

	spanExporter, err := autoexport.NewSpanExporter(context.Background())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logExporter, err := autoexport.NewLogExporter(context.Background())
	if err != nil {
		logger.Warnf("Failed to create log exporter: %v", err)
	}

	var logProvider *sdklog.LoggerProvider
	if logExporter != nil {
		logProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(logProvider)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tp.Shutdown(ctx); err != nil {
			logger.Errorf("Error shutting down tracer provider: %v", err)
		}

		if logProvider != nil {
			if err := logProvider.Shutdown(ctx); err != nil {
				logger.Errorf("Error shutting down log provider: %v", err)
			}
		}
	}, nil
}

// ReportJSON records data as a child span and as a debug log entry
func ReportJSON(ctx context.Context, logger *logrus.Logger, operationName string, data map[string]interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Errorf("Failed to marshal %s report: %v", operationName, err)
		return
	}

	reportInTrace(ctx, operationName, data, jsonData)
	reportInLogs(ctx, logger, operationName, jsonData)
}

func reportInTrace(ctx context.Context, operationName string, data map[string]interface{}, jsonData []byte) {
	_, span := otel.Tracer(ServiceName).Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(attribute.String("json.data", string(jsonData)))
	for key, value := range data {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("data."+key, v))
		case int:
			span.SetAttributes(attribute.Int("data."+key, v))
		case int64:
			span.SetAttributes(attribute.Int64("data."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("data."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("data."+key, v))
		}
	}
}

func reportInLogs(ctx context.Context, logger *logrus.Logger, operationName string, jsonData []byte) {
	logger.WithFields(logrus.Fields{
		"operation": operationName,
		"json_data": string(jsonData),
	}).Debug("Operation reported")

	var record otlplog.Record
	record.SetTimestamp(time.Now())
	record.SetObservedTimestamp(time.Now())
	record.SetSeverity(otlplog.SeverityDebug)
	record.SetSeverityText("DEBUG")
	record.SetBody(otlplog.StringValue(string(jsonData)))
	record.AddAttributes(otlplog.String("operation", operationName))
	global.GetLoggerProvider().Logger(ServiceName).Emit(ctx, record)
}
