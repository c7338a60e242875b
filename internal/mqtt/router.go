package mqtt

import (
	"strings"

	"github.com/ibs-source/syslog/consumer/golang/internal/ports"
)

// TopicMatches reports whether a concrete published topic matches an MQTT
// subscription filter, honoring the standard '+' (single level) and '#'
// (multi-level, trailing only) wildcards.
func TopicMatches(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, fl := range filterLevels {
		if fl == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if fl == "+" {
			continue
		}
		if fl != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}

// Router dispatches incoming MQTT messages to the first registered filter
// whose pattern matches the message's concrete topic, in registration order.
// It is the first-match-wins lookup used by MPROC when several MQTT device
// configurations subscribe with overlapping wildcard filters.
type Router struct {
	order   []string
	filters map[string]ports.MessageHandler
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{filters: make(map[string]ports.MessageHandler)}
}

// Register adds filter -> handler. Registering the same filter twice
// replaces the handler but preserves its original position.
func (r *Router) Register(filter string, handler ports.MessageHandler) {
	if _, exists := r.filters[filter]; !exists {
		r.order = append(r.order, filter)
	}
	r.filters[filter] = handler
}

// Remove drops filter from the router.
func (r *Router) Remove(filter string) {
	delete(r.filters, filter)
	for i, f := range r.order {
		if f == filter {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Dispatch routes topic/payload to the first matching filter's handler.
// Returns false if no filter matches.
func (r *Router) Dispatch(topic string, payload []byte) bool {
	for _, filter := range r.order {
		if TopicMatches(filter, topic) {
			r.filters[filter](topic, payload)
			return true
		}
	}
	return false
}

// Filters returns the registered filters in registration order.
func (r *Router) Filters() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
