package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/observability"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

const (
	notificationBufferSize = 16
	// deliveredWindow bounds how many notification ids a node remembers when
	// dropping copies that arrive over both redis and NATS.
	deliveredWindow = 1024
)

// ErrNotificationNotFound indicates the notification does not belong to the user.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationService stores learner notifications and streams them to open
// SSE and websocket connections on every node.
type NotificationService interface {
	NotificationSink
	List(ctx context.Context, userID string, filter repository.NotificationFilter) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context)
}

type notificationService struct {
	repo         repository.NotificationRepository
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	hub          *notificationHub
	delivered    *recentIDs
	nodeID       string
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// notificationEnvelope is the cross-node wire format. Nodes ignore their own envelopes.
type notificationEnvelope struct {
	Origin       string                   `json:"origin"`
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

// NewNotificationService constructs a notification service. Redis and NATS are
// both optional; without them delivery stays local to this node.
func NewNotificationService(repo repository.NotificationRepository, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	var channel, subject string
	if base := strings.TrimSpace(channelBase); base != "" {
		channel = base + ":notifications"
		subject = strings.ReplaceAll(base, ":", ".") + ".notifications"
	}

	return &notificationService{
		repo:         repo,
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		hub:          newNotificationHub(),
		delivered:    newRecentIDs(deliveredWindow),
		nodeID:       uuid.NewString(),
		logger:       logger.With().Str("component", "notification_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/gema-exam-api/internal/service/notification"),
	}
}

func (s *notificationService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		s.listenRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		s.listenNATS(ctx)
	}
}

func (s *notificationService) Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.NotificationResponse{}, err
	}

	message := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if message == "" {
		return dto.NotificationResponse{}, errors.New("notification message empty after sanitization")
	}

	ctx, span := s.tracer.Start(ctx, "notifications.publish", trace.WithAttributes(
		attribute.String("notification.user_id", payload.UserID),
		attribute.String("notification.type", payload.Type),
	))
	defer span.End()

	notification := models.Notification{
		UserID:  payload.UserID,
		Type:    payload.Type,
		Message: message,
		ExamID:  payload.ExamID,
	}
	if err := s.repo.Create(ctx, &notification); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.NotificationResponse{}, err
	}

	response := dto.NewNotificationResponse(notification)
	s.deliver(response)

	if err := s.fanOut(ctx, response); err != nil {
		s.logger.Warn().Err(err).Str("type", response.Type).Msg("failed to fan out notification")
	}

	return response, nil
}

func (s *notificationService) List(ctx context.Context, userID string, filter repository.NotificationFilter) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	notifications, err := s.repo.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	ch := make(chan dto.NotificationResponse, notificationBufferSize)
	s.hub.add(userID, ch)
	observability.SSEClientsActive().Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.hub.remove(userID, ch)
			observability.SSEClientsActive().Dec()
		})
	}
}

func (s *notificationService) deliver(notification dto.NotificationResponse) {
	if !s.delivered.add(notification.ID) {
		return
	}
	observability.NotificationsPublishedTotal().WithLabelValues(notification.Type).Inc()
	s.hub.send(notification.UserID, notification)
}

func (s *notificationService) fanOut(ctx context.Context, notification dto.NotificationResponse) error {
	if (s.redis == nil || s.redisChannel == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	payload, err := json.Marshal(notificationEnvelope{
		Origin:       s.nodeID,
		Notification: notification,
		SentAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

// listenRedis confirms the subscription before returning so events published
// right after Start are not missed.
func (s *notificationService) listenRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to redis notifications channel")
		_ = pubsub.Close()
		return
	}

	go func() {
		defer func() { _ = pubsub.Close() }()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				s.receive([]byte(msg.Payload))
			}
		}
	}()
}

func (s *notificationService) listenNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.receive(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats notifications subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
		}
	}()
}

func (s *notificationService) receive(payload []byte) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid notification envelope")
		return
	}

	if envelope.Origin == s.nodeID {
		return
	}

	s.deliver(envelope.Notification)
}

// recentIDs remembers the last n ids it was given.
type recentIDs struct {
	mu   sync.Mutex
	seen map[uint]struct{}
	ring []uint
	next int
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{seen: make(map[uint]struct{}, n), ring: make([]uint, n)}
}

// add reports whether id is new. Zero ids are never remembered.
func (r *recentIDs) add(id uint) bool {
	if id == 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[id]; ok {
		return false
	}
	if evicted := r.ring[r.next]; evicted != 0 {
		delete(r.seen, evicted)
	}
	r.ring[r.next] = id
	r.next = (r.next + 1) % len(r.ring)
	r.seen[id] = struct{}{}
	return true
}

// notificationHub keeps the open streams of each user.
type notificationHub struct {
	mu      sync.RWMutex
	streams map[string]map[chan dto.NotificationResponse]struct{}
}

func newNotificationHub() *notificationHub {
	return &notificationHub{streams: make(map[string]map[chan dto.NotificationResponse]struct{})}
}

func (h *notificationHub) add(userID string, ch chan dto.NotificationResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[userID]; !ok {
		h.streams[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	h.streams[userID][ch] = struct{}{}
}

func (h *notificationHub) remove(userID string, ch chan dto.NotificationResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	streams, ok := h.streams[userID]
	if !ok {
		return
	}
	if _, ok := streams[ch]; !ok {
		return
	}

	delete(streams, ch)
	close(ch)
	if len(streams) == 0 {
		delete(h.streams, userID)
	}
}

// send never blocks; a stream whose buffer is full misses the notification,
// which stays available through List.
func (h *notificationHub) send(userID string, notification dto.NotificationResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.streams[userID] {
		select {
		case ch <- notification:
		default:
		}
	}
}
