package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-exam-api/internal/dto"
	"github.com/noah-isme/gema-exam-api/internal/models"
	"github.com/noah-isme/gema-exam-api/internal/repository"
)

func awaitNotification(t *testing.T, ch <-chan dto.NotificationResponse) dto.NotificationResponse {
	t.Helper()
	select {
	case notification, ok := <-ch:
		require.True(t, ok, "stream closed")
		return notification
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return dto.NotificationResponse{}
}

func TestNotificationServicePublishAndList(t *testing.T) {
	db := setupExamDB(t)
	svc := NewNotificationService(repository.NewNotificationRepository(db), nil, "", nil, testValidator(), testLogger())

	stream, cancel := svc.Subscribe("501")
	defer cancel()

	examID := uint(12)
	created, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "501",
		Type:    models.NotificationTypeCorrectionReady,
		Message: "<script>alert(1)</script>Exam Physics has been fully corrected.",
		ExamID:  &examID,
	})
	require.NoError(t, err)
	require.Equal(t, "Exam Physics has been fully corrected.", created.Message)

	received := awaitNotification(t, stream)
	require.Equal(t, created.ID, received.ID)
	require.Equal(t, examID, *received.ExamID)

	_, err = svc.Publish(context.Background(), dto.NotificationCreateRequest{UserID: "501", Type: "exam.reminder", Message: "Second"})
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), dto.NotificationCreateRequest{UserID: "777", Type: "exam.reminder", Message: "Other user"})
	require.NoError(t, err)

	_, err = svc.Publish(context.Background(), dto.NotificationCreateRequest{UserID: "501", Type: "exam.reminder", Message: "<b></b>"})
	require.Error(t, err)

	items, err := svc.List(context.Background(), "501", repository.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Second", items[0].Message)

	read, err := svc.MarkRead(context.Background(), created.ID, "501")
	require.NoError(t, err)
	require.True(t, read.Read)

	again, err := svc.MarkRead(context.Background(), created.ID, "501")
	require.NoError(t, err)
	require.True(t, again.Read)

	_, err = svc.MarkRead(context.Background(), created.ID, "777")
	require.ErrorIs(t, err, ErrNotificationNotFound)

	unread, err := svc.List(context.Background(), "501", repository.NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, "Second", unread[0].Message)

	paged, err := svc.List(context.Background(), "501", repository.NotificationFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, created.ID, paged[0].ID)

	_, err = svc.List(context.Background(), " ", repository.NotificationFilter{})
	require.Error(t, err)
}

func TestNotificationServiceFansOutAcrossNodes(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	db := setupExamDB(t)
	repo := repository.NewNotificationRepository(db)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	origin := NewNotificationService(repo, redisClient, "gema:test", nil, testValidator(), testLogger())
	peer := NewNotificationService(repo, redisClient, "gema:test", nil, testValidator(), testLogger())
	origin.Start(ctx)
	peer.Start(ctx)

	local, cancelLocal := origin.Subscribe("501")
	defer cancelLocal()
	remote, cancelRemote := peer.Subscribe("501")
	defer cancelRemote()

	created, err := origin.Publish(ctx, dto.NotificationCreateRequest{UserID: "501", Type: models.NotificationTypeCorrectionReady, Message: "Ready"})
	require.NoError(t, err)

	require.Equal(t, created.ID, awaitNotification(t, local).ID)
	require.Equal(t, created.ID, awaitNotification(t, remote).ID)

	// with NATS configured too, the same envelope reaches the peer a second time
	payload, err := json.Marshal(notificationEnvelope{
		Origin:       origin.(*notificationService).nodeID,
		Notification: created,
		SentAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	peer.(*notificationService).receive(payload)

	select {
	case duplicate := <-local:
		t.Fatalf("origin node delivered its own notification twice: %+v", duplicate)
	case duplicate := <-remote:
		t.Fatalf("peer node delivered the notification twice: %+v", duplicate)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecentIDsForgetsOldestBeyondWindow(t *testing.T) {
	recent := newRecentIDs(2)

	require.True(t, recent.add(1))
	require.False(t, recent.add(1))
	require.True(t, recent.add(2))
	require.True(t, recent.add(3))
	require.True(t, recent.add(1))
	require.False(t, recent.add(3))
	require.True(t, recent.add(0))
	require.True(t, recent.add(0))
}

func TestNotificationSubscriptionCleanupIsIdempotent(t *testing.T) {
	svc := NewNotificationService(nil, nil, "", nil, testValidator(), testLogger())

	stream, cancel := svc.Subscribe("501")
	cancel()
	cancel()

	_, ok := <-stream
	require.False(t, ok)
}
