package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestCounter     metric.Int64Counter
	RequestDuration    metric.Float64Histogram
	ImportsTotal       metric.Int64Counter
	ImportDuration     metric.Float64Histogram
	MessagesImported   metric.Int64Counter
	ParseErrors        metric.Int64Counter
	Searches           metric.Int64Counter
	EnrichmentOutcomes metric.Int64Counter
	LLMLatency         metric.Float64Histogram
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("mail-archive-search")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	importsTotal, err := meter.Int64Counter(
		"archive.imports.total",
		metric.WithDescription("Archive imports by format and outcome"),
	)
	if err != nil {
		return nil, err
	}

	importDuration, err := meter.Float64Histogram(
		"archive.import.duration",
		metric.WithDescription("Synchronous import duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	messagesImported, err := meter.Int64Counter(
		"archive.messages.imported",
		metric.WithDescription("Messages persisted by imports"),
	)
	if err != nil {
		return nil, err
	}

	parseErrors, err := meter.Int64Counter(
		"archive.parse.errors",
		metric.WithDescription("Entries skipped because they failed to parse"),
	)
	if err != nil {
		return nil, err
	}

	searches, err := meter.Int64Counter(
		"search.requests.total",
		metric.WithDescription("Searches by method"),
	)
	if err != nil {
		return nil, err
	}

	enrichmentOutcomes, err := meter.Int64Counter(
		"enrichment.messages.total",
		metric.WithDescription("Enriched messages by outcome"),
	)
	if err != nil {
		return nil, err
	}

	llmLatency, err := meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("Language model request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:     requestCounter,
		RequestDuration:    requestDuration,
		ImportsTotal:       importsTotal,
		ImportDuration:     importDuration,
		MessagesImported:   messagesImported,
		ParseErrors:        parseErrors,
		Searches:           searches,
		EnrichmentOutcomes: enrichmentOutcomes,
		LLMLatency:         llmLatency,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordImport records one finished import.
func (m *Metrics) RecordImport(format, status string, imported, parseErrors int, duration float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("archive.format", format),
		attribute.String("archive.status", status),
	)

	m.ImportsTotal.Add(context.Background(), 1, attrs)
	m.ImportDuration.Record(context.Background(), duration, attrs)
	m.MessagesImported.Add(context.Background(), int64(imported), attrs)
	m.ParseErrors.Add(context.Background(), int64(parseErrors), attrs)
}

// RecordSearch records a search by method (lexical, semantic, chat).
func (m *Metrics) RecordSearch(method string, results int) {
	if m == nil {
		return
	}
	m.Searches.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("search.method", method),
		attribute.Bool("search.empty", results == 0),
	))
}

// RecordEnrichment records the outcome for one message.
func (m *Metrics) RecordEnrichment(outcome string) {
	if m == nil {
		return
	}
	m.EnrichmentOutcomes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("enrichment.outcome", outcome),
	))
}

// RecordLLMCall records language model latency by operation.
func (m *Metrics) RecordLLMCall(operation string, success bool, duration float64) {
	if m == nil {
		return
	}
	m.LLMLatency.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("llm.operation", operation),
		attribute.Bool("llm.success", success),
	))
}
