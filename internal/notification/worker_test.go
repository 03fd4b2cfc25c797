package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"roomwatch-backend/internal/db"
	"roomwatch-backend/internal/model"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	SendFunc func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Send calls the mock SendFunc.
func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return m.SendFunc(payload, sub, options)
}

func respond(code int) (*http.Response, error) {
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewBufferString(""))}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func subscribe(t *testing.T, gdb *gorm.DB, endpoint string, rooms ...string) {
	t.Helper()
	sub := model.PushSubscription{Endpoint: endpoint, P256DH: "p256dh-" + endpoint, Auth: "auth-" + endpoint, CreatedAt: time.Now()}
	for _, room := range rooms {
		sub.Rooms = append(sub.Rooms, model.PushSubscriptionRoom{RoomID: room})
	}
	require.NoError(t, gdb.Create(&sub).Error)
}

var vapid = &webpush.Options{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv", Subscriber: "ops@example.com", TTL: 60}

func noShowAlert(room string) model.RoomStatus {
	id := "res-1"
	return model.RoomStatus{RoomID: room, RoomState: model.RoomAlert, Alert: true, AlertReason: model.AlertNoShow, ReservationID: &id}
}

func TestWorkerPool_NotifyAlertQueues(t *testing.T) {
	wp := NewWorkerPool(1, nil, vapid)

	wp.NotifyAlert(noShowAlert("R-0001"))

	select {
	case job := <-wp.Jobs():
		assert.Equal(t, "R-0001", job.RoomID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_NotifyAlertNeverBlocks(t *testing.T) {
	wp := NewWorkerPool(1, nil, vapid)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			wp.NotifyAlert(noShowAlert("R-0001"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyAlert blocked on a full queue")
	}
	assert.Equal(t, cap(wp.Jobs()), len(wp.Jobs()))
}

func TestWorkerPool_SendsToRoomSubscribers(t *testing.T) {
	gdb := newTestDB(t)
	subscribe(t, gdb, "https://push.example.com/a", "R-0001")
	subscribe(t, gdb, "https://push.example.com/b", "R-0001", "R-0002")
	subscribe(t, gdb, "https://push.example.com/c", "R-0002")

	wp := NewWorkerPool(1, gdb, vapid)
	var sent []string
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			sent = append(sent, sub.Endpoint)
			assert.Equal(t, "Room R-0001: nobody arrived for reservation res-1", string(payload))
			assert.Equal(t, "p256dh-"+sub.Endpoint, sub.Keys.P256dh)
			assert.Same(t, vapid, options)
			return respond(http.StatusCreated)
		},
	}

	wp.sendNotificationsForRoom(context.Background(), noShowAlert("R-0001"))
	assert.ElementsMatch(t, []string{"https://push.example.com/a", "https://push.example.com/b"}, sent)
}

func TestWorkerPool_DeletesExpiredSubscription(t *testing.T) {
	gdb := newTestDB(t)
	subscribe(t, gdb, "https://push.example.com/gone", "R-0001", "R-0002")

	wp := NewWorkerPool(1, gdb, vapid)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			return respond(http.StatusGone)
		},
	}

	wp.sendNotificationsForRoom(context.Background(), noShowAlert("R-0001"))

	var subs, rooms int64
	require.NoError(t, gdb.Model(&model.PushSubscription{}).Count(&subs).Error)
	require.NoError(t, gdb.Model(&model.PushSubscriptionRoom{}).Count(&rooms).Error)
	assert.Zero(t, subs)
	assert.Zero(t, rooms)
}

func TestWorkerPool_WithoutKeysOnlyLogs(t *testing.T) {
	wp := NewWorkerPool(1, nil, &webpush.Options{})
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			t.Fatal("nothing should be sent without VAPID keys")
			return nil, nil
		},
	}

	// A nil db would panic if the pool tried to look up subscribers.
	wp.sendNotificationsForRoom(context.Background(), noShowAlert("R-0001"))
}

func TestWorkerPool_SubscriberQuery(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .* FROM "push_subscriptions" JOIN push_subscription_rooms psr .* WHERE psr\.room_id = \$1`).
		WithArgs("R-0003").
		WillReturnRows(sqlmock.NewRows([]string{"endpoint", "p256dh", "auth", "created_at"}))

	wp := NewWorkerPool(1, gormDB, vapid)
	wp.sendNotificationsForRoom(context.Background(), noShowAlert("R-0003"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerPool_StartProcessesJobs(t *testing.T) {
	gdb := newTestDB(t)
	subscribe(t, gdb, "https://push.example.com/a", "R-0001")

	wp := NewWorkerPool(2, gdb, vapid)
	sent := make(chan string, 1)
	wp.sender = &mockSender{
		SendFunc: func(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
			sent <- string(payload)
			return respond(http.StatusCreated)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	overstay := model.RoomStatus{RoomID: "R-0001", RoomState: model.RoomAlert, Alert: true, AlertReason: model.AlertOverstay, PeopleCount: 2}
	wp.NotifyAlert(overstay)

	select {
	case msg := <-sent:
		assert.Equal(t, "Room R-0001 is still occupied (2 people) after the reservation ended", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not send the notification")
	}
}
