package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"roomwatch-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers for sending room alert notifications.
type WorkerPool struct {
	size    int
	jobs    chan model.RoomStatus
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool. With no VAPID private key alerts
// are only logged.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan model.RoomStatus, size*4), // Buffered channel
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Worker %d started", id)
	for {
		select {
		case alert := <-wp.jobs:
			log.Printf("Worker %d processing %s alert for room %s", id, alert.AlertReason, alert.RoomID)
			wp.sendNotificationsForRoom(ctx, alert)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// NotifyAlert queues an alert. It never blocks the caller; when the queue is
// full the alert is dropped and logged.
func (wp *WorkerPool) NotifyAlert(status model.RoomStatus) {
	select {
	case wp.jobs <- status:
	default:
		log.Printf("Notification queue full, dropping %s alert for room %s", status.AlertReason, status.RoomID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan model.RoomStatus {
	return wp.jobs
}

// AlertMessage renders the push text for an alert.
func AlertMessage(status model.RoomStatus) string {
	switch status.AlertReason {
	case model.AlertNoShow:
		if status.ReservationID != nil {
			return fmt.Sprintf("Room %s: nobody arrived for reservation %s", status.RoomID, *status.ReservationID)
		}
		return fmt.Sprintf("Room %s: nobody arrived for the reservation", status.RoomID)
	case model.AlertOverstay:
		return fmt.Sprintf("Room %s is still occupied (%d people) after the reservation ended", status.RoomID, status.PeopleCount)
	default:
		return fmt.Sprintf("Room %s needs attention", status.RoomID)
	}
}

// sendNotificationsForRoom fetches the room's subscriptions and notifies each one.
func (wp *WorkerPool) sendNotificationsForRoom(ctx context.Context, alert model.RoomStatus) {
	message := AlertMessage(alert)
	if wp.webpush == nil || wp.webpush.VAPIDPrivateKey == "" {
		log.Printf("[alert] %s", message)
		return
	}

	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN push_subscription_rooms psr ON psr.endpoint = push_subscriptions.endpoint").
		Where("psr.room_id = ?", alert.RoomID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for room %s: %v", alert.RoomID, err)
		return
	}

	if len(subscriptions) == 0 {
		log.Printf("[alert] %s (no subscribers)", message)
		return
	}

	log.Printf("Sending %d notifications for room %s", len(subscriptions), alert.RoomID)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Select("Rooms").Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
