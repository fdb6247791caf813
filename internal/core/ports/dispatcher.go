package ports

import "context"

// Task is a fire-and-forget side effect. Tasks sharing a Key run in submission order.
type Task struct {
	Name string
	Key  string
	Run  func(ctx context.Context) error
}

// Dispatcher runs tasks off the request path. Enqueue never blocks; it reports
// false when the task was dropped.
type Dispatcher interface {
	Enqueue(task Task) bool
}
