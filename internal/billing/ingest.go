package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/NeilDarrenLtd/zarzoom-core/internal/domain"
	"github.com/NeilDarrenLtd/zarzoom-core/internal/postgres"
	"github.com/NeilDarrenLtd/zarzoom-core/pkg/telemetry"
)

// ErrBadSignature is the only ingest failure that reaches the provider as a
// client error; everything past signature verification is absorbed.
var ErrBadSignature = errors.New("webhook signature verification failed")

// Result reports what the gate did with a delivery.
type Result struct {
	Deduplicated bool
}

// Gate verifies, deduplicates, and admits provider webhook deliveries.
//
// The ordering is the correctness property: the event record is inserted
// BEFORE processing, so two concurrent deliveries of the same event race on
// the unique constraint and exactly one is admitted. Processing failures
// leave the record in place for replay and still answer success, because a
// failed webhook response only buys an unbounded provider retry storm.
type Gate struct {
	repo       postgres.BillingRepository
	reconciler *Reconciler
	secret     string
	tolerance  time.Duration
	logger     *slog.Logger
}

// NewGate constructs the ingest gate.
func NewGate(repo postgres.BillingRepository, reconciler *Reconciler, secret string, logger *slog.Logger) *Gate {
	return &Gate{
		repo:       repo,
		reconciler: reconciler,
		secret:     secret,
		tolerance:  DefaultTolerance,
		logger:     logger,
	}
}

// Ingest runs one delivery through the gate. rawBody must be the unmodified
// request bytes; sigHeader is the provider's signature header value.
func (g *Gate) Ingest(ctx context.Context, rawBody []byte, sigHeader string) (Result, error) {
	ctx, span := otel.Tracer("billing").Start(ctx, "billing.ingest")
	defer span.End()
	start := time.Now()

	if !VerifyProviderSignature(rawBody, sigHeader, g.secret, g.tolerance) {
		span.SetStatus(codes.Error, "bad signature")
		telemetry.WebhookEventsReceived.WithLabelValues("bad_signature").Inc()
		telemetry.WebhookIngestDuration.WithLabelValues("bad_signature").Observe(time.Since(start).Seconds())
		return Result{}, ErrBadSignature
	}

	// Parse only after the signature checks out. A verified-but-unparseable
	// body is recorded (so replays dedupe) and skipped.
	var ev Event
	parseErr := json.Unmarshal(rawBody, &ev)

	hash := sha256.Sum256(rawBody)
	payloadHash := hex.EncodeToString(hash[:])
	eventID := ev.ID
	if eventID == "" {
		// Providers without event ids fall back to content identity.
		eventID = "sha256:" + payloadHash
	}
	span.SetAttributes(attribute.String("event.id", eventID))

	record := &domain.WebhookEvent{
		ID:          uuid.New().String(),
		EventID:     eventID,
		EventType:   ev.Type,
		PayloadHash: payloadHash,
		RawPayload:  rawBody,
		TenantID:    tenantHint(&ev),
		ReceivedAt:  time.Now().UTC(),
	}

	if err := g.repo.InsertEvent(ctx, record); err != nil {
		var dup *domain.DuplicateEventError
		if errors.As(err, &dup) {
			// Duplicates are cheap, fast, and side-effect-free.
			telemetry.WebhookEventsReceived.WithLabelValues("duplicate").Inc()
			telemetry.WebhookIngestDuration.WithLabelValues("duplicate").Observe(time.Since(start).Seconds())
			g.logger.Info("duplicate webhook delivery ignored", slog.String("event_id", eventID))
			return Result{Deduplicated: true}, nil
		}
		// Store down: nothing durable exists, let the provider retry later.
		span.RecordError(err)
		span.SetStatus(codes.Error, "dedup record insert failed")
		return Result{}, err
	}

	telemetry.WebhookEventsReceived.WithLabelValues("admitted").Inc()

	if parseErr != nil {
		g.logger.Error("verified webhook body is not a valid event, recorded and skipped",
			slog.String("event_id", eventID),
			slog.String("error", parseErr.Error()),
		)
		telemetry.WebhookIngestDuration.WithLabelValues("admitted").Observe(time.Since(start).Seconds())
		return Result{}, nil
	}

	if err := g.reconciler.Apply(ctx, &ev); err != nil {
		// The dedup record stays, so this event can be replayed from the
		// stored raw payload; the provider still sees success.
		span.RecordError(err)
		telemetry.WebhookProcessingFailures.WithLabelValues(ev.Type).Inc()
		g.logger.Error("webhook reconciliation failed",
			slog.String("event_id", eventID),
			slog.String("event_type", ev.Type),
			slog.String("error", err.Error()),
		)
		telemetry.WebhookIngestDuration.WithLabelValues("admitted").Observe(time.Since(start).Seconds())
		return Result{}, nil
	}

	if err := g.repo.MarkEventProcessed(ctx, record.ID); err != nil {
		g.logger.Error("failed to mark webhook event processed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	telemetry.WebhookIngestDuration.WithLabelValues("admitted").Observe(time.Since(start).Seconds())
	return Result{}, nil
}

// tenantHint pulls a best-effort tenant id out of the event metadata for the
// forensic record; reconciliation does its own resolution.
func tenantHint(ev *Event) string {
	var obj struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return ""
	}
	return obj.Metadata["tenant_id"]
}
