package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coin-settlement/pkg/featureflags"
	"coin-settlement/pkg/logger"
	"coin-settlement/pkg/metrics"
	"coin-settlement/pkg/minio"
	"coin-settlement/pkg/paypal"
	"coin-settlement/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("coin-settlement/services/webhook")

const (
	headerAuthAlgo         = "PAYPAL-AUTH-ALGO"
	headerCertURL          = "PAYPAL-CERT-URL"
	headerTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	headerTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
	headerTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
)

type Ledger interface {
	FindTransaction(ctx context.Context, externalID, providerOrderID string) (*ledger.Transaction, error)
	Credit(ctx context.Context, req ledger.CreditRequest) (*ledger.CreditResult, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	gateway  paypal.Gateway
	ledger   Ledger
	archiver minio.Archiver
	flags    featureflags.FeatureFlag
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Gateway  paypal.Gateway
	Ledger   Ledger
	Archiver minio.Archiver           `optional:"true"`
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		gateway:  p.Gateway,
		ledger:   p.Ledger,
		archiver: p.Archiver,
		flags:    p.Flags,
	}
}

// Process handles one delivery and never returns an error: every failure is
// folded into the outcome so the provider always gets an acknowledgement.
func (s *Service) Process(ctx context.Context, d Delivery) Outcome {
	ctx, span := tracer.Start(ctx, "webhook.Process")
	defer span.End()

	log := zap.L().With(logger.TraceFields(ctx)...)
	received := time.Now().UTC()

	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		log.Warn("webhook body is not json", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues("", string(OutcomeMalformedDelivery)).Inc()
		return OutcomeMalformedDelivery
	}

	eventType := env.Type()
	span.SetAttributes(attribute.String("event_type", eventType), attribute.String("event_id", env.ID))
	log = log.With(zap.String("event_id", env.ID), zap.String("event_type", eventType))

	record := &Event{
		ID:         env.ID,
		EventType:  eventType,
		ReceivedAt: received,
		UpdatedAt:  received,
	}
	if record.ID == "" {
		record.ID = "anon-" + s.node.Generate().String()
	}

	outcome := s.handle(ctx, log, d, env, record)

	record.Outcome = string(outcome)
	s.record(ctx, log, record)
	metrics.WebhookEvents.WithLabelValues(eventType, string(outcome)).Inc()
	log.Info("webhook handled", zap.String("outcome", string(outcome)))

	return outcome
}

func (s *Service) handle(ctx context.Context, log *zap.Logger, d Delivery, env envelope, record *Event) Outcome {
	if !s.verify(ctx, log, d) {
		return OutcomeRejected
	}
	record.SignatureValid = true
	record.ArchiveKey = s.archive(ctx, log, record, d.Body)

	switch env.Type() {
	case paypal.EventCaptureCompleted:
		return s.captureCompleted(ctx, log, env, record)
	case paypal.EventOrderApproved:
		return OutcomeAcknowledged
	default:
		return OutcomeIgnored
	}
}

// verify is mandatory: a delivery that cannot be verified is never acted on.
func (s *Service) verify(ctx context.Context, log *zap.Logger, d Delivery) bool {
	v := paypal.WebhookVerification{
		AuthAlgo:         d.Headers.Get(headerAuthAlgo),
		CertURL:          d.Headers.Get(headerCertURL),
		TransmissionID:   d.Headers.Get(headerTransmissionID),
		TransmissionSig:  d.Headers.Get(headerTransmissionSig),
		TransmissionTime: d.Headers.Get(headerTransmissionTime),
	}
	if !v.Complete() {
		log.Warn("webhook missing transmission headers")
		return false
	}

	token, err := s.gateway.AccessToken(ctx)
	if err != nil {
		log.Error("failed to acquire provider token for verification", zap.Error(err))
		return false
	}

	ok, err := s.gateway.VerifyWebhookSignature(ctx, token, v, json.RawMessage(d.Body))
	if err != nil {
		log.Error("webhook signature verification failed", zap.Error(err))
		return false
	}
	if !ok {
		log.Warn("webhook signature invalid")
	}
	return ok
}

func (s *Service) archive(ctx context.Context, log *zap.Logger, record *Event, body []byte) string {
	if s.archiver == nil {
		return ""
	}
	if s.flags != nil && !s.flags.Enabled(ctx, featureflags.WebhookArchive, true) {
		return ""
	}

	key := fmt.Sprintf("paypal/%s/%s.json", record.ReceivedAt.Format("2006/01/02"), record.ID)
	location, err := s.archiver.Put(ctx, key, "application/json", body)
	if err != nil {
		log.Warn("failed to archive webhook body", zap.String("key", key), zap.Error(err))
		return ""
	}
	return location
}

func (s *Service) captureCompleted(ctx context.Context, log *zap.Logger, env envelope, record *Event) Outcome {
	var resource captureResource
	if len(env.Resource) > 0 {
		if err := json.Unmarshal(env.Resource, &resource); err != nil {
			log.Warn("capture resource is malformed", zap.Error(err))
			return OutcomeMissingCaptureID
		}
	}

	captureID := resource.ID
	if captureID == "" {
		return OutcomeMissingCaptureID
	}
	record.ResourceID = captureID
	log = log.With(zap.String("capture_id", captureID))

	// The verifier may have credited this order before the capture id was
	// known, so both keys take part in the lookup.
	orderID := resource.OrderID()
	existing, err := s.ledger.FindTransaction(ctx, captureID, orderID)
	if err != nil {
		log.Error("failed to check existing transaction", zap.Error(err))
		return OutcomeCreditFailed
	}
	if existing != nil {
		record.OrderID = orderID
		return OutcomeDuplicate
	}

	if orderID == "" {
		log.Warn("capture event has no order id, skipping credit")
		return OutcomeMissingOrderID
	}
	record.OrderID = orderID
	log = log.With(zap.String("order_id", orderID))

	token, err := s.gateway.AccessToken(ctx)
	if err != nil {
		log.Error("failed to acquire provider token", zap.Error(err))
		return OutcomeOrderFetchFailed
	}
	order, err := s.gateway.GetOrder(ctx, token, orderID)
	if err != nil {
		log.Error("failed to fetch order", zap.Error(err))
		return OutcomeOrderFetchFailed
	}

	meta, err := paypal.ParseOrderMetadata(order.CustomID())
	if err != nil {
		log.Error("failed to parse order metadata", zap.Error(err))
		return OutcomeInvalidMetadata
	}

	md := map[string]any{
		"provider":       "paypal",
		"source":         "paypal_webhook",
		"event_type":     env.Type(),
		"payment_status": resource.Status,
		"package_id":     meta.PackageID,
	}
	if resource.Amount != nil {
		md["amount"] = resource.Amount.Value
		md["currency"] = resource.Amount.CurrencyCode
	}

	res, err := s.ledger.Credit(ctx, ledger.CreditRequest{
		UserID:          meta.UserID,
		Amount:          meta.Coins,
		Type:            ledger.TypePurchase,
		ExternalID:      captureID,
		ProviderOrderID: orderID,
		Description:     fmt.Sprintf("PayPal purchase %s", orderID),
		Metadata:        md,
	})
	if err != nil {
		log.Error("failed to credit capture", zap.Error(err))
		return OutcomeCreditFailed
	}
	if res.Duplicate {
		return OutcomeDuplicate
	}

	log.Info("capture credited", zap.String("user_id", meta.UserID), zap.Int64("coins", meta.Coins))
	return OutcomeCaptureCompleted
}

func (s *Service) record(ctx context.Context, log *zap.Logger, e *Event) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"outcome":         e.Outcome,
			"signature_valid": e.SignatureValid,
			"resource_id":     e.ResourceID,
			"order_id":        e.OrderID,
			"archive_key":     e.ArchiveKey,
			"deliveries":      gorm.Expr("webhook_events.deliveries + 1"),
			"updated_at":      e.UpdatedAt,
		}),
	}).Create(e).Error
	if err != nil {
		log.Error("failed to record webhook event", zap.Error(err))
	}
}
