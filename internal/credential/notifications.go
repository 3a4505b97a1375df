package credential

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxNotifications = 10

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// notificationQueue keeps the most recent notifications, newest first.
type notificationQueue struct {
	mu    sync.Mutex
	items []Notification
}

func (q *notificationQueue) push(n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	items := make([]Notification, 0, maxNotifications)
	items = append(items, n)
	for _, existing := range q.items {
		if len(items) == maxNotifications {
			break
		}
		items = append(items, existing)
	}
	q.items = items
}

func (q *notificationQueue) list() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Notification, len(q.items))
	copy(out, q.items)
	return out
}
